package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
	BrokerNone     = "none"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	// PublicURL is the externally reachable base for webhooks and hosted audio.
	PublicURL string `env:"PUBLIC_URL,required=true"`

	TwilioAccountSID        string `env:"TWILIO_ACCOUNT_SID,required=true"`
	TwilioAuthToken         string `env:"TWILIO_AUTH_TOKEN,required=true"`
	TwilioPhoneNumber       string `env:"TWILIO_PHONE_NUMBER,required=true"`
	TwilioAPIURL            string `env:"TWILIO_API_URL,default=https://api.twilio.com/2010-04-01"`
	TwilioValidateSignature bool   `env:"TWILIO_VALIDATE_SIGNATURE,default=true"`

	DeepgramAPIKey string `env:"DEEPGRAM_API_KEY,required=true"`
	DeepgramAPIURL string `env:"DEEPGRAM_API_URL,default=https://api.deepgram.com/v1"`
	TTSModel       string `env:"TTS_MODEL,default=aura-athena-en"`
	STTModel       string `env:"STT_MODEL,default=nova-3"`
	STTLanguage    string `env:"STT_LANGUAGE,default=en"`

	AudioDir           string        `env:"AUDIO_DIR,default=./data/audio"`
	PromptDir          string        `env:"PROMPT_DIR,default=./data/prompts"`
	AudioTTL           time.Duration `env:"AUDIO_TTL,default=60s"`
	AudioSweepInterval time.Duration `env:"AUDIO_SWEEP_INTERVAL,default=5m"`
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT,default=15s"`

	EventBroker  string `env:"EVENT_BROKER,default=rabbitmq"`
	RabbitMQURL  string `env:"RABBITMQ_URL"`
	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=reminder.attempts"`

	RateLimitPerSec int    `env:"RATE_LIMIT_PER_SEC,default=10"`
	APIPort         int    `env:"API_PORT,default=8080"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// KafkaBrokerList splits KAFKA_BROKERS on commas.
func (c *Config) KafkaBrokerList() []string {
	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func (c *Config) validate() error {
	u, err := url.Parse(c.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PUBLIC_URL must be an absolute url, got %q", c.PublicURL)
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")

	c.EventBroker = strings.ToLower(strings.TrimSpace(c.EventBroker))
	switch c.EventBroker {
	case BrokerRabbitMQ:
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return fmt.Errorf("RABBITMQ_URL is required when EVENT_BROKER=%s", BrokerRabbitMQ)
		}
	case BrokerKafka:
		if len(c.KafkaBrokerList()) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENT_BROKER=%s", BrokerKafka)
		}
	case BrokerNone:
	default:
		return fmt.Errorf("EVENT_BROKER must be one of rabbitmq, kafka, none; got %q", c.EventBroker)
	}

	if c.AudioTTL <= 0 {
		return fmt.Errorf("AUDIO_TTL must be positive")
	}
	if c.RateLimitPerSec <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SEC must be positive")
	}
	return nil
}
