package audio

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 5 * time.Minute

// Sweeper removes artifacts whose deletion timers were lost, e.g. across a restart.
type Sweeper struct {
	store    *FileStore
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewSweeper(store *FileStore, maxAge, interval time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("audio store is required")
	}
	if maxAge <= 0 {
		maxAge = defaultTTL
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() int {
	names, err := s.store.OlderThan(s.now().Add(-s.maxAge))
	if err != nil {
		s.logger.Error("audio sweep failed", zap.Error(err))
		return 0
	}

	removed := 0
	for _, name := range names {
		if err := s.store.Remove(name); err != nil {
			s.logger.Warn("failed to sweep audio artifact", zap.String("artifact", name), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("swept stale audio artifacts", zap.Int("count", removed))
	}
	return removed
}
