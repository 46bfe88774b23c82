// Package twiml builds the voice-response markup the telephony provider
// executes during a call.
package twiml

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

type Validator interface {
	Validate() error
}

// Verb is any instruction allowed at the top level of a Response.
type Verb interface {
	isVerb()
}

type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []Verb   `xml:""`
}

func NewResponse(verbs ...Verb) *Response {
	return &Response{Verbs: verbs}
}

func (r *Response) Append(verbs ...Verb) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

func (r *Response) Validate() error {
	for _, v := range r.Verbs {
		if v == nil {
			return fmt.Errorf("nil verb")
		}
		if va, ok := v.(Validator); ok {
			if err := va.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Generate validates the response and renders it with an XML header.
func (r *Response) Generate() (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}

	data, err := xml.Marshal(r)
	if err != nil {
		return "", err
	}

	return xml.Header + string(data), nil
}

// Play streams an audio file from a URL.
type Play struct {
	XMLName xml.Name `xml:"Play"`
	Loop    uint     `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

func (*Play) isVerb()       {}
func (*Play) isGatherNoun() {}

func (p *Play) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("play url is required")
	}
	if _, err := url.Parse(p.URL); err != nil {
		return fmt.Errorf("play url is invalid: %w", err)
	}
	return nil
}

type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

func (*Say) isVerb()       {}
func (*Say) isGatherNoun() {}

func (s *Say) Validate() error {
	if strings.TrimSpace(s.Text) == "" {
		return fmt.Errorf("say text is required")
	}
	return nil
}

type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  uint     `xml:"length,attr,omitempty"`
}

func (*Pause) isVerb()       {}
func (*Pause) isGatherNoun() {}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (*Hangup) isVerb() {}

// GatherNoun is anything that may be nested inside a Gather.
type GatherNoun interface {
	isGatherNoun()
}

// Gather collects keypad digits and/or speech and posts them to Action.
type Gather struct {
	XMLName       xml.Name     `xml:"Gather"`
	Input         string       `xml:"input,attr,omitempty"`
	Action        string       `xml:"action,attr,omitempty"`
	Method        string       `xml:"method,attr,omitempty"`
	Timeout       uint         `xml:"timeout,attr,omitempty"`
	NumDigits     uint         `xml:"numDigits,attr,omitempty"`
	SpeechTimeout string       `xml:"speechTimeout,attr,omitempty"`
	SpeechModel   string       `xml:"speechModel,attr,omitempty"`
	Hints         string       `xml:"hints,attr,omitempty"`
	Nouns         []GatherNoun `xml:""`
}

func (*Gather) isVerb() {}

func (g *Gather) Validate() error {
	if g.Action != "" {
		if _, err := url.Parse(g.Action); err != nil {
			return fmt.Errorf("gather action is invalid: %w", err)
		}
	}
	if err := validateMethod(g.Method); err != nil {
		return err
	}
	for _, in := range strings.Fields(g.Input) {
		if in != "dtmf" && in != "speech" {
			return fmt.Errorf("invalid gather input %q", in)
		}
	}
	for _, n := range g.Nouns {
		if n == nil {
			return fmt.Errorf("nil gather noun")
		}
		if va, ok := n.(Validator); ok {
			if err := va.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateMethod(method string) error {
	switch method {
	case "", "GET", "POST":
		return nil
	}
	return fmt.Errorf("method can only be GET or POST, got %q", method)
}
