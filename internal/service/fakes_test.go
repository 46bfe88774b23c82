package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/kursadbilgin/reminder-engine/internal/audio"
	"github.com/kursadbilgin/reminder-engine/internal/domain"
	"github.com/kursadbilgin/reminder-engine/internal/provider"
	"github.com/kursadbilgin/reminder-engine/internal/queue"
	"github.com/kursadbilgin/reminder-engine/internal/repository"
)

// memAttemptRepo is an in-memory attempt store that serializes mutations per
// repository, matching the row lock the gorm implementation takes.
type memAttemptRepo struct {
	mu        sync.Mutex
	byID      map[string]*domain.Attempt
	callIndex map[string]string
	writes    int

	mutateErr error
}

var _ repository.AttemptRepository = (*memAttemptRepo)(nil)

func newMemAttemptRepo() *memAttemptRepo {
	return &memAttemptRepo{
		byID:      make(map[string]*domain.Attempt),
		callIndex: make(map[string]string),
	}
}

func (r *memAttemptRepo) Create(_ context.Context, a *domain.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[a.ID]; ok {
		return domain.ErrConflict
	}
	r.byID[a.ID] = a.Clone()
	r.writes++
	return nil
}

func (r *memAttemptRepo) GetByID(_ context.Context, id string) (*domain.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (r *memAttemptRepo) GetByProviderCallID(ctx context.Context, callID string) (*domain.Attempt, error) {
	r.mu.Lock()
	id, ok := r.callIndex[callID]
	r.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *memAttemptRepo) List(_ context.Context, params repository.ListParams) ([]domain.Attempt, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Attempt, 0, len(r.byID))
	for _, a := range r.byID {
		if params.State != nil && a.State != *params.State {
			continue
		}
		out = append(out, *a.Clone())
	}
	return out, int64(len(out)), nil
}

func (r *memAttemptRepo) SetProviderCallID(_ context.Context, id string, callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if a.ProviderCallID != nil {
		if *a.ProviderCallID == callID {
			return nil
		}
		return domain.ErrConflict
	}
	a.ProviderCallID = &callID
	r.callIndex[callID] = id
	r.writes++
	return nil
}

func (r *memAttemptRepo) Mutate(_ context.Context, id string, fn repository.AttemptMutator) (*domain.Attempt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutateLocked(id, fn)
}

func (r *memAttemptRepo) MutateByProviderCallID(_ context.Context, callID string, fn repository.AttemptMutator) (*domain.Attempt, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.callIndex[callID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	return r.mutateLocked(id, fn)
}

func (r *memAttemptRepo) mutateLocked(id string, fn repository.AttemptMutator) (*domain.Attempt, bool, error) {
	if r.mutateErr != nil {
		return nil, false, r.mutateErr
	}

	stored, ok := r.byID[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}

	working := stored.Clone()
	changed, err := fn(working)
	if err != nil {
		return nil, false, err
	}
	if changed {
		r.byID[id] = working.Clone()
		if callID := working.CallID(); callID != "" {
			r.callIndex[callID] = id
		}
		r.writes++
	}
	return working, changed, nil
}

func (r *memAttemptRepo) only() *domain.Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byID) != 1 {
		panic(fmt.Sprintf("expected exactly one attempt, have %d", len(r.byID)))
	}
	for _, a := range r.byID {
		return a.Clone()
	}
	return nil
}

func (r *memAttemptRepo) failMutations(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutateErr = err
}

func (r *memAttemptRepo) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

type fakePatientRepo struct {
	patients      map[string]*domain.Patient
	prescriptions map[string]*domain.Prescription
}

func newFakePatientRepo() *fakePatientRepo {
	return &fakePatientRepo{
		patients: map[string]*domain.Patient{
			"p1": {ID: "p1", Name: "Ada", Phone: "+15551112222"},
		},
		prescriptions: map[string]*domain.Prescription{
			"rx1": {
				ID:        "rx1",
				PatientID: "p1",
				Schedules: []domain.Schedule{{DrugName: "Aspirin"}, {DrugName: "Metformin"}},
			},
		},
	}
}

func (f *fakePatientRepo) FindPatientByID(_ context.Context, id string) (*domain.Patient, error) {
	p, ok := f.patients[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (f *fakePatientRepo) FindPrescriptionByID(_ context.Context, id string) (*domain.Prescription, error) {
	p, ok := f.prescriptions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

type fakeTelephony struct {
	mu sync.Mutex

	placeCallFn        func(ctx context.Context, req provider.CallRequest) (string, error)
	sendSMSFn          func(ctx context.Context, to, body string) (string, error)
	deliverVoicemailFn func(ctx context.Context, to, audioURL string) (string, error)

	calls      []provider.CallRequest
	sms        []string
	voicemails []string
}

func (f *fakeTelephony) PlaceCall(ctx context.Context, req provider.CallRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	if f.placeCallFn != nil {
		return f.placeCallFn(ctx, req)
	}
	return "CA100", nil
}

func (f *fakeTelephony) SendSMS(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	f.sms = append(f.sms, body)
	f.mu.Unlock()

	if f.sendSMSFn != nil {
		return f.sendSMSFn(ctx, to, body)
	}
	return "SM100", nil
}

func (f *fakeTelephony) DeliverVoicemail(ctx context.Context, to, audioURL string) (string, error) {
	f.mu.Lock()
	f.voicemails = append(f.voicemails, audioURL)
	f.mu.Unlock()

	if f.deliverVoicemailFn != nil {
		return f.deliverVoicemailFn(ctx, to, audioURL)
	}
	return "CA200", nil
}

func (f *fakeTelephony) counts() (calls, sms, voicemails int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls), len(f.sms), len(f.voicemails)
}

type fakeAudio struct {
	mu         sync.Mutex
	generateFn func(ctx context.Context, text string) (*audio.Artifact, error)
	texts      []string
}

func (f *fakeAudio) Generate(ctx context.Context, text string) (*audio.Artifact, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	n := len(f.texts)
	f.mu.Unlock()

	if f.generateFn != nil {
		return f.generateFn(ctx, text)
	}
	name := fmt.Sprintf("gen-%d.wav", n)
	return &audio.Artifact{Name: name, URL: "https://public.example.com/audio/" + name}, nil
}

type fakeTranscriber struct {
	mu            sync.Mutex
	transcribeFn  func(ctx context.Context, url string) (string, error)
	requestedURLs []string
}

func (f *fakeTranscriber) TranscribeURL(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.requestedURLs = append(f.requestedURLs, url)
	f.mu.Unlock()

	if f.transcribeFn != nil {
		return f.transcribeFn(ctx, url)
	}
	return "yes I have taken them", nil
}

func (f *fakeTranscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requestedURLs)
}

type fakePublisher struct {
	mu        sync.Mutex
	publishFn func(ctx context.Context, event queue.AttemptEvent) error
	events    []queue.AttemptEvent
}

func (f *fakePublisher) Publish(ctx context.Context, event queue.AttemptEvent) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()

	if f.publishFn != nil {
		return f.publishFn(ctx, event)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

func (f *fakePublisher) states() []domain.AttemptState {
	f.mu.Lock()
	defer f.mu.Unlock()

	states := make([]domain.AttemptState, 0, len(f.events))
	for _, e := range f.events {
		states = append(states, e.State)
	}
	return states
}

func (f *fakePublisher) snapshot() []queue.AttemptEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.AttemptEvent(nil), f.events...)
}

type fakeRateLimiter struct {
	mu       sync.Mutex
	waitFn   func(ctx context.Context, channel string) error
	channels []string
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel string) error {
	f.mu.Lock()
	f.channels = append(f.channels, channel)
	f.mu.Unlock()

	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}
