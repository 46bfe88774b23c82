package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
	"github.com/kursadbilgin/reminder-engine/internal/provider"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"go.uber.org/zap"
)

// TranscriptionRequester enriches an answered attempt with the text of its
// call recording. It is best effort: failures never change attempt state.
type TranscriptionRequester struct {
	transcriber provider.Transcriber
	attempts    repository.AttemptRepository
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewTranscriptionRequester(
	transcriber provider.Transcriber,
	attempts repository.AttemptRepository,
	logger *zap.Logger,
) (*TranscriptionRequester, error) {
	if transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TranscriptionRequester{
		transcriber: transcriber,
		attempts:    attempts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *TranscriptionRequester) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Request transcribes recordingURL and appends the text to the attempt's
// transcript. The returned error is informational; callers only log it.
func (r *TranscriptionRequester) Request(ctx context.Context, attemptID, recordingURL string) error {
	logger := r.logger.With(zap.String("attemptId", attemptID))

	start := time.Now()
	text, err := r.transcriber.TranscribeURL(ctx, recordingURL)
	r.metrics.ObserveProviderRequest("speech", "transcribe", time.Since(start))
	if err != nil {
		logger.Warn("recording transcription failed",
			zap.Bool("transient", provider.IsTransient(err)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to transcribe recording: %w", err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		logger.Info("recording transcription was empty")
		return nil
	}

	_, _, err = r.attempts.Mutate(ctx, attemptID, func(a *domain.Attempt) (bool, error) {
		a.AppendTranscript(domain.TranscriptEntry{
			Source: domain.TranscriptSourceRecording,
			Text:   text,
		}, r.now())
		return true, nil
	})
	if err != nil {
		logger.Error("failed to store recording transcript", zap.Error(err))
		return fmt.Errorf("failed to store transcript: %w", err)
	}

	logger.Info("recording transcript stored", zap.Int("length", len(text)))
	return nil
}
