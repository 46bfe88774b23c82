package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	twilioProvider       = "twilio"
	defaultTwilioBaseURL = "https://api.twilio.com/2010-04-01"
	defaultTwilioTimeout = 15 * time.Second
)

var callStatusEvents = []string{"initiated", "ringing", "answered", "completed"}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
}

// TwilioClient implements Telephony over Twilio's REST API.
type TwilioClient struct {
	client *resty.Client
	cfg    TwilioConfig
}

var _ Telephony = (*TwilioClient)(nil)

type twilioResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// twilioException is the error body Twilio returns for non-2xx responses.
type twilioException struct {
	Status   int    `json:"status"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func NewTwilioClient(cfg TwilioConfig) (*TwilioClient, error) {
	client := resty.New()
	client.SetTimeout(defaultTwilioTimeout)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	client.SetRetryCount(0)

	return NewTwilioClientWithClient(cfg, client)
}

func NewTwilioClientWithClient(cfg TwilioConfig, client *resty.Client) (*TwilioClient, error) {
	cfg.AccountSID = strings.TrimSpace(cfg.AccountSID)
	cfg.FromNumber = strings.TrimSpace(cfg.FromNumber)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}

	if cfg.AccountSID == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("twilio credentials are required")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio from number is required")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid twilio base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultTwilioTimeout)
	}
	client.SetRetryCount(0)

	return &TwilioClient{client: client, cfg: cfg}, nil
}

func (c *TwilioClient) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	if strings.TrimSpace(req.To) == "" {
		return "", fmt.Errorf("call destination is required")
	}

	script, err := CallScript(req).Generate()
	if err != nil {
		return "", fmt.Errorf("failed to build call script: %w", err)
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Twiml", script)
	form.Set("Record", "true")
	form.Set("MachineDetection", "Enable")
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", "POST")
		for _, event := range callStatusEvents {
			form.Add("StatusCallbackEvent", event)
		}
	}

	return c.create(ctx, "place call", "Calls.json", form)
}

func (c *TwilioClient) DeliverVoicemail(ctx context.Context, to string, audioURL string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", fmt.Errorf("voicemail destination is required")
	}

	script, err := VoicemailScript(audioURL).Generate()
	if err != nil {
		return "", fmt.Errorf("failed to build voicemail script: %w", err)
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Twiml", script)
	// Wait for the greeting to finish so the message lands on the recording.
	form.Set("MachineDetection", "DetectMessageEnd")

	return c.create(ctx, "deliver voicemail", "Calls.json", form)
}

func (c *TwilioClient) SendSMS(ctx context.Context, to string, body string) (string, error) {
	if strings.TrimSpace(to) == "" {
		return "", fmt.Errorf("sms destination is required")
	}
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("sms body is required")
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Body", body)

	return c.create(ctx, "send sms", "Messages.json", form)
}

func (c *TwilioClient) create(ctx context.Context, operation, resource string, form url.Values) (string, error) {
	if c == nil || c.client == nil {
		return "", fmt.Errorf("twilio client is not initialized")
	}

	response, err := c.client.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken).
		SetHeader("Accept", "application/json").
		SetFormDataFromValues(form).
		Post(c.accountURL(resource))
	if err != nil {
		return "", transportError(twilioProvider, operation, err)
	}

	if !isSuccess(response.StatusCode()) {
		var exc twilioException
		_ = json.Unmarshal(response.Body(), &exc)
		message := exc.Message
		if message == "" {
			message = strings.TrimSpace(response.String())
		}
		return "", statusError(twilioProvider, operation, response.StatusCode(), exc.Code, message)
	}

	var created twilioResource
	if err := json.Unmarshal(response.Body(), &created); err != nil {
		return "", &ProviderError{
			Provider:   twilioProvider,
			Operation:  operation,
			StatusCode: response.StatusCode(),
			Message:    "invalid response body",
			Cause:      err,
		}
	}
	if created.SID == "" {
		return "", &ProviderError{
			Provider:   twilioProvider,
			Operation:  operation,
			StatusCode: response.StatusCode(),
			Message:    "response is missing sid",
		}
	}

	return created.SID, nil
}

func (c *TwilioClient) accountURL(resource string) string {
	return fmt.Sprintf("%s/Accounts/%s/%s", c.cfg.BaseURL, url.PathEscape(c.cfg.AccountSID), resource)
}
