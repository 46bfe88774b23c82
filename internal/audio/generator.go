// Package audio produces short-lived hosted audio artifacts for calls and
// voicemail drops.
package audio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/provider"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	defaultTTL    = 60 * time.Second
	fileExtension = ".wav"
)

// Artifact is a generated audio file reachable at URL until it expires.
type Artifact struct {
	Name string
	URL  string
}

type GeneratorConfig struct {
	PublicBaseURL string
	TTL           time.Duration
	// Inflight tracks artifacts waiting for deletion. Optional.
	Inflight prometheus.Gauge
}

// Generator synthesizes text to a file in the store and removes the file
// once its TTL has elapsed.
type Generator struct {
	synth    provider.Synthesizer
	store    *FileStore
	baseURL  string
	ttl      time.Duration
	inflight prometheus.Gauge
	logger   *zap.Logger

	newName   func() string
	afterFunc func(time.Duration, func()) stopper

	mu      sync.Mutex
	pending map[string]stopper
	closed  bool
}

type stopper interface {
	Stop() bool
}

func NewGenerator(synth provider.Synthesizer, store *FileStore, cfg GeneratorConfig, logger *zap.Logger) (*Generator, error) {
	if synth == nil {
		return nil, fmt.Errorf("synthesizer is required")
	}
	if store == nil {
		return nil, fmt.Errorf("audio store is required")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return nil, fmt.Errorf("public base url is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		synth:    synth,
		store:    store,
		baseURL:  strings.TrimRight(cfg.PublicBaseURL, "/"),
		ttl:      cfg.TTL,
		inflight: cfg.Inflight,
		logger:   logger,
		newName: func() string {
			return uuid.NewString() + fileExtension
		},
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		pending: make(map[string]stopper),
	}, nil
}

// Generate synthesizes text and returns the hosted artifact. The file is
// deleted after the configured TTL whether or not it was ever fetched.
func (g *Generator) Generate(ctx context.Context, text string) (*Artifact, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: audio text is required", domain.ErrValidation)
	}

	data, err := g.synth.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize audio: %w", err)
	}

	name := g.newName()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, fmt.Errorf("audio generator is closed")
	}

	if err := g.store.Save(name, data); err != nil {
		return nil, err
	}

	g.pending[name] = g.afterFunc(g.ttl, func() { g.expire(name) })
	if g.inflight != nil {
		g.inflight.Inc()
	}

	return &Artifact{Name: name, URL: generatedURL(g.baseURL, name)}, nil
}

// Close cancels pending expirations and deletes their files immediately.
func (g *Generator) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	for name, timer := range g.pending {
		timer.Stop()
		g.remove(name)
	}
	g.pending = make(map[string]stopper)
}

func (g *Generator) expire(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.pending[name]; !ok {
		return
	}
	g.remove(name)
}

// remove must be called with mu held.
func (g *Generator) remove(name string) {
	delete(g.pending, name)
	if g.inflight != nil {
		g.inflight.Dec()
	}
	if err := g.store.Remove(name); err != nil {
		g.logger.Warn("failed to delete audio artifact",
			zap.String("artifact", name),
			zap.Error(err),
		)
	}
}
