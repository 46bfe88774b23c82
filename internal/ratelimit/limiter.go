package ratelimit

import "context"

// Outbound provider actions are throttled per channel.
const (
	ChannelVoice = "voice"
	ChannelSMS   = "sms"
)

// RateLimiter controls outbound provider throughput per channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}

// Unlimited never throttles. It is used when no shared limiter is configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
func (Unlimited) Wait(ctx context.Context, _ string) error   { return ctx.Err() }
