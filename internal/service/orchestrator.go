package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/reminder-engine/internal/audio"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/observability"
	"github.com/kursadbilgin/reminder-engine/internal/provider"
	"github.com/kursadbilgin/reminder-engine/internal/queue"
	"github.com/kursadbilgin/reminder-engine/internal/ratelimit"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
	"github.com/kursadbilgin/reminder-engine/internal/twiml"
	"go.uber.org/zap"
)

const (
	StatusWebhookPath = "/webhooks/status"
	InputWebhookPath  = "/webhooks/receive"

	// AttemptIDParam is appended to callback URLs so callbacks that race the
	// call id write can still be correlated.
	AttemptIDParam = "attemptId"

	defaultPublishTimeout = 5 * time.Second
	goodbyeVoice          = "alice"
)

// AudioGenerator hosts synthesized speech at a public URL for a limited time.
type AudioGenerator interface {
	Generate(ctx context.Context, text string) (*audio.Artifact, error)
}

type OrchestratorConfig struct {
	// PublicBaseURL is where the telephony provider reaches webhooks and audio.
	PublicBaseURL  string
	PublishTimeout time.Duration
}

// Orchestrator drives a reminder attempt through call, voicemail and SMS.
type Orchestrator struct {
	attempts       repository.AttemptRepository
	patients       repository.PatientRepository
	telephony      provider.Telephony
	audio          AudioGenerator
	transcriptions *TranscriptionRequester
	publisher      queue.Publisher
	rateLimiter    ratelimit.RateLimiter
	logger         *zap.Logger
	metrics        *observability.Metrics

	baseURL        string
	publishTimeout time.Duration
	now            func() time.Time
	newID          func() string

	mu       sync.Mutex
	wg       sync.WaitGroup
	draining bool
}

type StartReminderInput struct {
	PatientID      string
	PrescriptionID string
}

// StatusEvent is a call progress notification from the telephony provider.
type StatusEvent struct {
	CallID       string
	AttemptID    string
	Status       string
	RecordingURL string
}

// InputEvent carries what the caller pressed or said during the call.
type InputEvent struct {
	CallID     string
	AttemptID  string
	Digits     string
	Speech     string
	Confidence float64
}

func NewOrchestrator(
	attempts repository.AttemptRepository,
	patients repository.PatientRepository,
	telephony provider.Telephony,
	audioGen AudioGenerator,
	transcriptions *TranscriptionRequester,
	publisher queue.Publisher,
	rateLimiter ratelimit.RateLimiter,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if patients == nil {
		return nil, fmt.Errorf("patient repository is required")
	}
	if telephony == nil {
		return nil, fmt.Errorf("telephony provider is required")
	}
	if audioGen == nil {
		return nil, fmt.Errorf("audio generator is required")
	}
	if transcriptions == nil {
		return nil, fmt.Errorf("transcription requester is required")
	}
	if strings.TrimSpace(cfg.PublicBaseURL) == "" {
		return nil, fmt.Errorf("public base url is required")
	}
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	if rateLimiter == nil {
		rateLimiter = ratelimit.Unlimited{}
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		attempts:       attempts,
		patients:       patients,
		telephony:      telephony,
		audio:          audioGen,
		transcriptions: transcriptions,
		publisher:      publisher,
		rateLimiter:    rateLimiter,
		logger:         logger,
		baseURL:        strings.TrimRight(cfg.PublicBaseURL, "/"),
		publishTimeout: cfg.PublishTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
	}, nil
}

func (s *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// StartReminder creates an attempt and places the reminder call. When the
// call cannot be placed the SMS fallback runs before the error is returned,
// and the returned attempt reflects the fallback outcome.
func (s *Orchestrator) StartReminder(ctx context.Context, in StartReminderInput) (*domain.Attempt, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	prescriptionID := strings.TrimSpace(in.PrescriptionID)
	if prescriptionID == "" {
		return nil, fmt.Errorf("%w: prescriptionId is required", domain.ErrValidation)
	}

	prescription, err := s.patients.FindPrescriptionByID(ctx, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prescription: %w", err)
	}

	patientID := strings.TrimSpace(in.PatientID)
	if patientID == "" {
		patientID = prescription.PatientID
	}
	if patientID != prescription.PatientID {
		return nil, fmt.Errorf("%w: prescription %s does not belong to patient %s", domain.ErrValidation, prescription.ID, patientID)
	}

	patient, err := s.patients.FindPatientByID(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}
	if strings.TrimSpace(patient.Phone) == "" {
		return nil, fmt.Errorf("%w: patient %s has no phone number", domain.ErrValidation, patient.ID)
	}

	drugs := prescription.DrugNames()
	if len(drugs) == 0 {
		return nil, fmt.Errorf("%w: prescription %s has no medications", domain.ErrValidation, prescription.ID)
	}

	attempt := domain.NewAttempt(s.newID(), patient.ID, prescription.ID, s.now())
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create attempt: %w", err)
	}
	s.metrics.IncAttemptStarted()
	s.logger.Info("reminder attempt created",
		zap.String("attemptId", attempt.ID),
		zap.String("patientId", attempt.PatientID),
		zap.String("prescriptionId", attempt.PrescriptionID),
	)
	s.publish(ctx, attempt, "")

	callID, err := s.placeCall(ctx, attempt.ID, patient, drugs)
	if err == nil {
		err = s.attempts.SetProviderCallID(ctx, attempt.ID, callID)
		if err != nil {
			err = fmt.Errorf("failed to store provider call id %s: %w", callID, err)
		}
	}
	if err != nil {
		return s.placementFallback(ctx, attempt, patient, drugs, err)
	}

	s.logger.Info("reminder call placed",
		zap.String("attemptId", attempt.ID),
		zap.String("providerCallId", callID),
	)

	// Callbacks may already have moved the attempt along.
	if stored, err := s.attempts.GetByID(ctx, attempt.ID); err == nil {
		return stored, nil
	}
	attempt.ProviderCallID = &callID
	return attempt, nil
}

func (s *Orchestrator) placeCall(ctx context.Context, attemptID string, patient *domain.Patient, drugs []string) (string, error) {
	artifact, err := s.audio.Generate(ctx, domain.InitialReminderMessage(patient.Name, drugs))
	if err != nil {
		return "", fmt.Errorf("failed to generate reminder audio: %w", err)
	}

	if err := s.rateLimiter.Wait(ctx, ratelimit.ChannelVoice); err != nil {
		return "", fmt.Errorf("voice rate limit wait failed: %w", err)
	}

	start := time.Now()
	callID, err := s.telephony.PlaceCall(ctx, provider.CallRequest{
		To:                patient.Phone,
		InitialAudioURL:   artifact.URL,
		PromptAudioURL:    audio.PresetURL(s.baseURL, audio.PresetPrompt),
		FallbackAudioURL:  audio.PresetURL(s.baseURL, audio.PresetTextFallback),
		StatusCallbackURL: s.callbackURL(StatusWebhookPath, attemptID),
		InputCallbackURL:  s.callbackURL(InputWebhookPath, attemptID),
	})
	s.metrics.ObserveProviderRequest("telephony", "place_call", time.Since(start))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(callID) == "" {
		return "", fmt.Errorf("telephony provider returned an empty call id")
	}

	return callID, nil
}

func (s *Orchestrator) callbackURL(path, attemptID string) string {
	return s.baseURL + path + "?" + url.Values{AttemptIDParam: {attemptID}}.Encode()
}

// placementFallback marks the attempt FAILED and sends the SMS reminder,
// returning the resulting attempt alongside an ErrCallPlacement error. The SMS
// goes out even when the store refuses the FAILED mark. If callbacks already
// advanced the attempt the call did connect, and nothing is done.
func (s *Orchestrator) placementFallback(
	ctx context.Context,
	attempt *domain.Attempt,
	patient *domain.Patient,
	drugs []string,
	cause error,
) (*domain.Attempt, error) {
	// The caller may give up on the request; the fallback still has to run.
	ctx = context.WithoutCancel(ctx)
	placementErr := fmt.Errorf("%w: %w", domain.ErrCallPlacement, cause)
	logger := s.logger.With(zap.String("attemptId", attempt.ID))

	logger.Error("call placement failed, falling back to sms",
		zap.Bool("transient", provider.IsTransient(cause)),
		zap.Error(cause),
	)

	failed, markErr := s.markPlacementFailed(ctx, attempt.ID, cause)
	if markErr == nil && failed.State != domain.StateFailed {
		logger.Warn("attempt already advanced by provider callbacks, skipping placement fallback",
			zap.String("state", failed.State.String()),
		)
		return failed, nil
	}
	if markErr != nil {
		logger.Error("failed to mark attempt as failed, sending sms anyway", zap.Error(markErr))
	}

	messageID, sendErr := s.deliverSMS(ctx, patient.Phone, domain.FallbackReminderMessage(drugs))
	if sendErr != nil {
		logger.Error("sms fallback after placement failure failed", zap.Error(sendErr))
	}

	if markErr != nil {
		failed, markErr = s.markPlacementFailed(ctx, attempt.ID, cause)
	}
	if markErr != nil {
		logger.Error("attempt state not recorded after placement fallback",
			zap.Bool("smsSent", sendErr == nil),
			zap.Error(markErr),
		)
		return attempt, fmt.Errorf("%w (failed to mark attempt failed: %v)", placementErr, markErr)
	}

	final, err := s.recordSMSOutcome(ctx, failed.ID, domain.StateFailed, messageID, sendErr)
	if err != nil && sendErr == nil {
		logger.Error("failed to record sms fallback", zap.Error(err))
	}
	if final == nil {
		final = failed
	}

	return final, placementErr
}

// markPlacementFailed moves a PENDING attempt to FAILED. Any other state is
// returned untouched.
func (s *Orchestrator) markPlacementFailed(ctx context.Context, attemptID string, cause error) (*domain.Attempt, error) {
	failed, _, err := s.mutateByID(ctx, attemptID, func(a *domain.Attempt) (bool, error) {
		if a.State != domain.StatePending {
			return false, nil
		}
		if err := a.TransitionTo(domain.StateFailed, s.now()); err != nil {
			return false, err
		}
		a.RecordError(cause, s.now())
		return true, nil
	})
	return failed, err
}

// HandleStatus applies a call status callback. Unknown call ids, unknown
// statuses and duplicate deliveries are acknowledged without side effects.
func (s *Orchestrator) HandleStatus(ctx context.Context, event StatusEvent) error {
	if ctx == nil {
		ctx = context.Background()
	}

	callID := strings.TrimSpace(event.CallID)
	if callID == "" {
		s.metrics.IncWebhookEvent("status", "invalid")
		return fmt.Errorf("%w: CallSid is required", domain.ErrValidation)
	}
	attemptID := strings.TrimSpace(event.AttemptID)
	logger := observability.WithContextLogger(s.logger, observability.WithCallID(ctx, callID))

	status := strings.ToLower(strings.TrimSpace(event.Status))
	switch {
	case isIntermediateStatus(status):
		s.metrics.IncWebhookEvent("status", "ignored")
		logger.Debug("intermediate call status ignored", zap.String("status", status))
		return nil
	case status == "completed":
		return s.handleCompleted(ctx, logger, callRef{callID: callID, attemptID: attemptID}, strings.TrimSpace(event.RecordingURL))
	case isUnreachedStatus(status):
		return s.handleUnreached(ctx, logger, callRef{callID: callID, attemptID: attemptID}, status)
	default:
		s.metrics.IncWebhookEvent("status", "unknown_status")
		logger.Warn("unknown call status ignored", zap.String("status", status))
		return nil
	}
}

func (s *Orchestrator) handleCompleted(ctx context.Context, logger *zap.Logger, ref callRef, recordingURL string) error {
	var storedRecording bool
	attempt, changed, err := s.mutateByCall(ctx, ref, func(a *domain.Attempt) (bool, error) {
		storedRecording = false
		switch a.State {
		case domain.StatePending:
			if err := a.TransitionTo(domain.StateAnswered, s.now()); err != nil {
				return false, err
			}
			storedRecording = a.AttachRecording(recordingURL, s.now())
			return true, nil
		case domain.StateAnswered:
			storedRecording = a.AttachRecording(recordingURL, s.now())
			return storedRecording, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return s.webhookMutationError(logger, "status", err)
	}
	if !changed {
		s.metrics.IncWebhookEvent("status", "duplicate")
		logger.Debug("completed status left attempt unchanged",
			zap.String("attemptId", attempt.ID),
			zap.String("state", attempt.State.String()),
		)
		return nil
	}
	s.metrics.IncWebhookEvent("status", "applied")

	if storedRecording {
		attemptID := attempt.ID
		s.goAsync(ctx, func(ctx context.Context) {
			_ = s.transcriptions.Request(ctx, attemptID, recordingURL)
		})
	}
	return nil
}

func (s *Orchestrator) handleUnreached(ctx context.Context, logger *zap.Logger, ref callRef, status string) error {
	attempt, changed, err := s.mutateByCall(ctx, ref, func(a *domain.Attempt) (bool, error) {
		if a.State != domain.StatePending {
			return false, nil
		}
		if err := a.TransitionTo(domain.StateVoicemail, s.now()); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return s.webhookMutationError(logger, "status", err)
	}
	if !changed {
		s.metrics.IncWebhookEvent("status", "duplicate")
		logger.Debug("unreached status left attempt unchanged",
			zap.String("attemptId", attempt.ID),
			zap.String("status", status),
			zap.String("state", attempt.State.String()),
		)
		return nil
	}
	s.metrics.IncWebhookEvent("status", "applied")

	s.goAsync(ctx, func(ctx context.Context) {
		s.voicemailFallback(ctx, attempt)
	})
	return nil
}

// voicemailFallback leaves a voicemail and then always sends the SMS; a
// voicemail failure does not stop the SMS.
func (s *Orchestrator) voicemailFallback(ctx context.Context, attempt *domain.Attempt) {
	logger := s.logger.With(
		zap.String("attemptId", attempt.ID),
		zap.String("providerCallId", attempt.CallID()),
	)

	patient, drugs, err := s.loadRecipient(ctx, attempt)
	if err != nil {
		logger.Error("failed to load reminder recipient for fallback", zap.Error(err))
		s.failFromVoicemail(ctx, attempt.ID, err)
		return
	}
	message := domain.FallbackReminderMessage(drugs)

	if err := s.deliverVoicemail(ctx, patient.Phone, message); err != nil {
		logger.Warn("voicemail delivery failed, continuing with sms", zap.Error(err))
	}

	if _, err := s.sendFallbackSMS(ctx, attempt, patient.Phone, message); err != nil {
		logger.Error("sms fallback after voicemail failed", zap.Error(err))
	}
}

func (s *Orchestrator) deliverVoicemail(ctx context.Context, to, message string) error {
	artifact, err := s.audio.Generate(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to generate voicemail audio: %w", err)
	}
	if err := s.rateLimiter.Wait(ctx, ratelimit.ChannelVoice); err != nil {
		return fmt.Errorf("voice rate limit wait failed: %w", err)
	}

	start := time.Now()
	_, err = s.telephony.DeliverVoicemail(ctx, to, artifact.URL)
	s.metrics.ObserveProviderRequest("telephony", "deliver_voicemail", time.Since(start))
	return err
}

func (s *Orchestrator) loadRecipient(ctx context.Context, attempt *domain.Attempt) (*domain.Patient, []string, error) {
	patient, err := s.patients.FindPatientByID(ctx, attempt.PatientID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load patient: %w", err)
	}
	prescription, err := s.patients.FindPrescriptionByID(ctx, attempt.PrescriptionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load prescription: %w", err)
	}
	return patient, prescription.DrugNames(), nil
}

// sendFallbackSMS sends body and moves the attempt from its current fallback
// state (VOICEMAIL or FAILED) to SMS_SENT.
func (s *Orchestrator) sendFallbackSMS(ctx context.Context, attempt *domain.Attempt, to, body string) (*domain.Attempt, error) {
	messageID, err := s.deliverSMS(ctx, to, body)
	return s.recordSMSOutcome(ctx, attempt.ID, attempt.State, messageID, err)
}

func (s *Orchestrator) deliverSMS(ctx context.Context, to, body string) (string, error) {
	var (
		messageID string
		err       error
	)
	if err = s.rateLimiter.Wait(ctx, ratelimit.ChannelSMS); err == nil {
		start := time.Now()
		messageID, err = s.telephony.SendSMS(ctx, to, body)
		s.metrics.ObserveProviderRequest("telephony", "send_sms", time.Since(start))
	}
	if err != nil {
		s.metrics.IncSMSFallback("failed")
		return "", fmt.Errorf("failed to send sms: %w", err)
	}
	s.metrics.IncSMSFallback("sent")
	return messageID, nil
}

// recordSMSOutcome stores the result of an SMS sent while the attempt was in
// from. A failed send from VOICEMAIL ends in FAILED; a failed send from FAILED
// only records the error.
func (s *Orchestrator) recordSMSOutcome(
	ctx context.Context,
	attemptID string,
	from domain.AttemptState,
	messageID string,
	sendErr error,
) (*domain.Attempt, error) {
	if sendErr != nil {
		var updated *domain.Attempt
		if from == domain.StateVoicemail {
			updated = s.failFromVoicemail(ctx, attemptID, sendErr)
		} else {
			updated, _, _ = s.mutateByID(ctx, attemptID, func(a *domain.Attempt) (bool, error) {
				a.RecordError(sendErr, s.now())
				return true, nil
			})
		}
		return updated, sendErr
	}

	updated, _, err := s.mutateByID(ctx, attemptID, func(a *domain.Attempt) (bool, error) {
		if a.State != from {
			return false, nil
		}
		if err := a.TransitionTo(domain.StateSMSSent, s.now()); err != nil {
			return false, err
		}
		if messageID != "" {
			a.SMSMessageID = &messageID
		}
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("sms sent but attempt update failed: %w", err)
	}
	return updated, nil
}

func (s *Orchestrator) failFromVoicemail(ctx context.Context, attemptID string, cause error) *domain.Attempt {
	updated, _, err := s.mutateByID(ctx, attemptID, func(a *domain.Attempt) (bool, error) {
		if a.State != domain.StateVoicemail {
			return false, nil
		}
		if err := a.TransitionTo(domain.StateFailed, s.now()); err != nil {
			return false, err
		}
		a.RecordError(cause, s.now())
		return true, nil
	})
	if err != nil {
		s.logger.Error("failed to mark attempt as failed",
			zap.String("attemptId", attemptID),
			zap.Error(err),
		)
	}
	return updated
}

// HandleInput records the caller's answer and returns the markup to play
// back. It never fails the call: unknown calls get a spoken goodbye and store
// errors get the error prompt.
func (s *Orchestrator) HandleInput(ctx context.Context, event InputEvent) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	callID := strings.TrimSpace(event.CallID)
	logger := observability.WithContextLogger(s.logger, observability.WithCallID(ctx, callID))

	classification := domain.Classify(event.Digits, event.Speech)
	entry := domain.TranscriptEntry{
		Source:         domain.TranscriptSourcePatient,
		Text:           domain.RawInput(event.Digits, event.Speech),
		Classification: classification,
	}

	ref := callRef{callID: callID, attemptID: strings.TrimSpace(event.AttemptID)}
	attempt, changed, err := s.mutateByCall(ctx, ref, func(a *domain.Attempt) (bool, error) {
		if last, ok := a.LastPatientEntry(); ok && last.Text == entry.Text && last.Classification == entry.Classification {
			return false, nil
		}
		a.AppendTranscript(entry, s.now())
		if a.State == domain.StatePending {
			if err := a.TransitionTo(domain.StateAnswered, s.now()); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.metrics.IncWebhookEvent("input", "unknown_call")
		logger.Warn("caller input for unknown call")
		return twiml.NewResponse(
			&twiml.Say{Voice: goodbyeVoice, Text: domain.UnknownCallGoodbye},
			&twiml.Hangup{},
		).Generate()
	case err != nil:
		s.metrics.IncWebhookEvent("input", "error")
		logger.Error("failed to record caller input", zap.Error(err))
		return s.playAndHangup(audio.PresetError)
	}

	if !changed {
		s.metrics.IncWebhookEvent("input", "duplicate")
		logger.Debug("repeated caller input ignored", zap.String("attemptId", attempt.ID))
		return s.playAndHangup(audio.PresetForClassification(classification))
	}

	s.metrics.IncWebhookEvent("input", "applied")
	logger.Info("caller input recorded",
		zap.String("attemptId", attempt.ID),
		zap.String("classification", classification.String()),
		zap.Float64("confidence", event.Confidence),
	)

	return s.playAndHangup(audio.PresetForClassification(classification))
}

func (s *Orchestrator) playAndHangup(preset string) (string, error) {
	return twiml.NewResponse(
		&twiml.Play{URL: audio.PresetURL(s.baseURL, preset)},
		&twiml.Hangup{},
	).Generate()
}

func (s *Orchestrator) GetAttempt(ctx context.Context, id string) (*domain.Attempt, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: attempt id is required", domain.ErrValidation)
	}
	return s.attempts.GetByID(ctx, id)
}

func (s *Orchestrator) ListAttempts(ctx context.Context, params repository.ListParams) ([]domain.Attempt, int64, error) {
	return s.attempts.List(ctx, params)
}

// Shutdown stops accepting background work and waits for in-flight side
// effects until ctx expires.
func (s *Orchestrator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background work did not drain: %w", ctx.Err())
	}
}

// Wait blocks until all background side effects started so far have finished.
func (s *Orchestrator) Wait() {
	s.wg.Wait()
}

func (s *Orchestrator) goAsync(ctx context.Context, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		s.logger.Warn("orchestrator is shutting down, background work dropped")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()
		fn(bg)
	}()
}

func (s *Orchestrator) mutateByID(ctx context.Context, id string, fn repository.AttemptMutator) (*domain.Attempt, bool, error) {
	var previous domain.AttemptState
	attempt, changed, err := s.attempts.Mutate(ctx, id, recordPrevious(fn, &previous))
	if err != nil {
		return nil, false, err
	}
	s.afterMutation(ctx, attempt, previous, changed)
	return attempt, changed, nil
}

func (s *Orchestrator) mutateByCallID(ctx context.Context, callID string, fn repository.AttemptMutator) (*domain.Attempt, bool, error) {
	var previous domain.AttemptState
	attempt, changed, err := s.attempts.MutateByProviderCallID(ctx, callID, recordPrevious(fn, &previous))
	if err != nil {
		return nil, false, err
	}
	s.afterMutation(ctx, attempt, previous, changed)
	return attempt, changed, nil
}

// callRef identifies the attempt a provider callback belongs to. attemptID
// comes from the callback URL and is only trusted while the attempt has no
// call id or already carries this one.
type callRef struct {
	callID    string
	attemptID string
}

// mutateByCall resolves the attempt by call id and falls back to the attempt
// id from the callback URL, binding the call id in the same locked mutation.
func (s *Orchestrator) mutateByCall(ctx context.Context, ref callRef, fn repository.AttemptMutator) (*domain.Attempt, bool, error) {
	attempt, changed, err := s.mutateByCallID(ctx, ref.callID, fn)
	if !errors.Is(err, domain.ErrNotFound) || ref.attemptID == "" {
		return attempt, changed, err
	}

	return s.mutateByID(ctx, ref.attemptID, func(a *domain.Attempt) (bool, error) {
		bound, err := a.BindProviderCallID(ref.callID, s.now())
		if errors.Is(err, domain.ErrConflict) {
			return false, fmt.Errorf("%w: call %s does not belong to attempt %s", domain.ErrNotFound, ref.callID, a.ID)
		}
		if err != nil {
			return false, err
		}
		changed, err := fn(a)
		return bound || changed, err
	})
}

func recordPrevious(fn repository.AttemptMutator, previous *domain.AttemptState) repository.AttemptMutator {
	return func(a *domain.Attempt) (bool, error) {
		*previous = a.State
		return fn(a)
	}
}

func (s *Orchestrator) afterMutation(ctx context.Context, attempt *domain.Attempt, previous domain.AttemptState, changed bool) {
	if !changed || attempt == nil || attempt.State == previous {
		return
	}

	s.logger.Info("attempt state changed",
		zap.String("attemptId", attempt.ID),
		zap.String("providerCallId", attempt.CallID()),
		zap.String("from", previous.String()),
		zap.String("to", attempt.State.String()),
	)
	s.metrics.IncAttemptTransition(previous.String(), attempt.State.String())
	s.publish(ctx, attempt, previous)
}

func (s *Orchestrator) publish(ctx context.Context, attempt *domain.Attempt, previous domain.AttemptState) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, queue.NewAttemptEvent(attempt, previous)); err != nil {
		s.logger.Warn("failed to publish attempt event",
			zap.String("attemptId", attempt.ID),
			zap.String("state", attempt.State.String()),
			zap.Error(err),
		)
	}
}

func (s *Orchestrator) webhookMutationError(logger *zap.Logger, kind string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		s.metrics.IncWebhookEvent(kind, "unknown_call")
		logger.Warn("webhook for unknown call ignored", zap.String("kind", kind))
		return nil
	}
	s.metrics.IncWebhookEvent(kind, "error")
	logger.Error("failed to apply webhook", zap.String("kind", kind), zap.Error(err))
	return err
}

func isIntermediateStatus(status string) bool {
	switch status {
	case "initiated", "queued", "ringing", "in-progress":
		return true
	}
	return false
}

func isUnreachedStatus(status string) bool {
	switch status {
	case "busy", "no-answer", "failed", "canceled":
		return true
	}
	return false
}
