package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
)

const (
	deepgramProvider       = "deepgram"
	defaultDeepgramBaseURL = "https://api.deepgram.com/v1"
	defaultDeepgramTimeout = 30 * time.Second
	defaultTTSModel        = "aura-athena-en"
	defaultSTTModel        = "nova-3"
	defaultSTTLanguage     = "en"
)

type DeepgramConfig struct {
	APIKey   string
	BaseURL  string
	TTSModel string
	STTModel string
	Language string
	Timeout  time.Duration
}

// DeepgramClient implements Synthesizer and Transcriber over Deepgram's REST API.
type DeepgramClient struct {
	client *resty.Client
	cfg    DeepgramConfig
}

var (
	_ Synthesizer = (*DeepgramClient)(nil)
	_ Transcriber = (*DeepgramClient)(nil)
)

type speakRequest struct {
	Text string `json:"text"`
}

type listenRequest struct {
	URL string `json:"url"`
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type deepgramErrorBody struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`
}

func NewDeepgramClient(cfg DeepgramConfig) (*DeepgramClient, error) {
	client := resty.New()
	client.SetTimeout(defaultDeepgramTimeout)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	client.SetRetryCount(0)

	return NewDeepgramClientWithClient(cfg, client)
}

func NewDeepgramClientWithClient(cfg DeepgramConfig, client *resty.Client) (*DeepgramClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("deepgram api key is required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultDeepgramBaseURL
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid deepgram base url: %w", err)
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = defaultTTSModel
	}
	if cfg.STTModel == "" {
		cfg.STTModel = defaultSTTModel
	}
	if cfg.Language == "" {
		cfg.Language = defaultSTTLanguage
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultDeepgramTimeout)
	}
	client.SetRetryCount(0)

	return &DeepgramClient{client: client, cfg: cfg}, nil
}

// Synthesize returns 16-bit linear PCM audio in a WAV container.
func (c *DeepgramClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text to synthesize is required", domain.ErrValidation)
	}

	response, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"model":     c.cfg.TTSModel,
			"encoding":  "linear16",
			"container": "wav",
		}).
		SetBody(speakRequest{Text: text}).
		Post(c.cfg.BaseURL + "/speak")
	if err != nil {
		return nil, transportError(deepgramProvider, "speak", err)
	}
	if !isSuccess(response.StatusCode()) {
		return nil, deepgramStatusError("speak", response)
	}

	audio := response.Body()
	if len(audio) == 0 {
		return nil, &ProviderError{
			Provider:   deepgramProvider,
			Operation:  "speak",
			StatusCode: response.StatusCode(),
			Message:    "empty audio stream",
			Transient:  true,
		}
	}

	return audio, nil
}

func (c *DeepgramClient) TranscribeURL(ctx context.Context, recordingURL string) (string, error) {
	if strings.TrimSpace(recordingURL) == "" {
		return "", fmt.Errorf("%w: recording url is required", domain.ErrValidation)
	}

	response, err := c.request(ctx).
		SetQueryParams(map[string]string{
			"model":        c.cfg.STTModel,
			"language":     c.cfg.Language,
			"smart_format": "true",
		}).
		SetBody(listenRequest{URL: recordingURL}).
		Post(c.cfg.BaseURL + "/listen")
	if err != nil {
		return "", transportError(deepgramProvider, "listen", err)
	}
	if !isSuccess(response.StatusCode()) {
		return "", deepgramStatusError("listen", response)
	}

	var parsed listenResponse
	if err := json.Unmarshal(response.Body(), &parsed); err != nil {
		return "", &ProviderError{
			Provider:   deepgramProvider,
			Operation:  "listen",
			StatusCode: response.StatusCode(),
			Message:    "invalid response body",
			Cause:      err,
		}
	}

	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(parsed.Results.Channels[0].Alternatives[0].Transcript), nil
}

func (c *DeepgramClient) request(ctx context.Context) *resty.Request {
	return c.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Token "+c.cfg.APIKey).
		SetHeader("Content-Type", "application/json")
}

func deepgramStatusError(operation string, response *resty.Response) *ProviderError {
	var body deepgramErrorBody
	_ = json.Unmarshal(response.Body(), &body)
	message := body.ErrMsg
	if message == "" {
		message = strings.TrimSpace(response.String())
	}
	return statusError(deepgramProvider, operation, response.StatusCode(), 0, message)
}
