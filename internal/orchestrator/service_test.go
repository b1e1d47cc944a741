package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"mediaforge/internal/backend"
	"mediaforge/internal/chain"
	"mediaforge/internal/domain"
)

type fakeJobs struct {
	created   []*domain.Job
	claimJob  *domain.Job
	claimErr  error
	completed []completedCall
	failed    []failedCall
	stored    map[string]*domain.Job
}

type completedCall struct {
	jobID    string
	backend  string
	attempts []byte
}

type failedCall struct {
	jobID    string
	kind     domain.ErrorKind
	message  string
	attempts []byte
}

func (f *fakeJobs) Create(_ context.Context, job *domain.Job) error {
	f.created = append(f.created, job)
	return nil
}

func (f *fakeJobs) Claim(_ context.Context) (*domain.Job, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.claimJob, nil
}

func (f *fakeJobs) MarkCompleted(_ context.Context, jobID, backendName string, attemptsJSON []byte) error {
	f.completed = append(f.completed, completedCall{jobID: jobID, backend: backendName, attempts: attemptsJSON})
	return nil
}

func (f *fakeJobs) MarkFailed(_ context.Context, jobID string, kind domain.ErrorKind, message string, attemptsJSON []byte) error {
	f.failed = append(f.failed, failedCall{jobID: jobID, kind: kind, message: message, attempts: attemptsJSON})
	return nil
}

func (f *fakeJobs) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	if job, ok := f.stored[jobID]; ok {
		return job, nil
	}
	return nil, domain.ErrNotFound
}

type fakeAssets struct {
	saved   []domain.Asset
	saveErr error
}

func (f *fakeAssets) ListByJobID(_ context.Context, jobID string) ([]domain.Asset, error) {
	var out []domain.Asset
	for _, a := range f.saved {
		if a.JobID == jobID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAssets) SaveAll(_ context.Context, jobID string, assets []domain.Asset) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	for i := range assets {
		assets[i].JobID = jobID
	}
	f.saved = append(f.saved, assets...)
	return nil
}

type fakeStore struct {
	uploads   []string
	uploadErr error
}

func (f *fakeStore) UploadFromURL(_ context.Context, key, sourceURL string) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads = append(f.uploads, sourceURL)
	return "http://files.local/" + key, nil
}

func (f *fakeStore) IsLocal(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http://files.local/")
}

type stubBackend struct {
	name       string
	configured bool
	result     domain.GenerationResult
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) DisplayName() string { return strings.ToUpper(b.name[:1]) + b.name[1:] }

func (b *stubBackend) Configured() bool { return b.configured }

func (b *stubBackend) Available(context.Context) bool { return b.configured }

func (b *stubBackend) Generate(context.Context, domain.Feature, domain.GenerationRequest) domain.GenerationResult {
	return b.result
}

func newTestService(t *testing.T, jobs *fakeJobs, assets *fakeAssets, store *fakeStore, backends ...backend.Backend) *Service {
	t.Helper()
	registry := backend.NewRegistry()
	for _, b := range backends {
		registry.Register(b)
	}
	executor := chain.NewExecutor(chain.Options{Retry: chain.RetryPolicy{Attempts: 1}})
	svc, err := NewService(Options{
		Registry: registry,
		Executor: executor,
		Jobs:     jobs,
		Assets:   assets,
		Store:    store,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func mustRequestJSON(t *testing.T, req domain.GenerationRequest) []byte {
	t.Helper()
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return raw
}

func TestEnqueueValidatesAndPersists(t *testing.T) {
	jobs := &fakeJobs{}
	svc := newTestService(t, jobs, &fakeAssets{}, &fakeStore{})

	job, err := svc.Enqueue(context.Background(), "owner-1", domain.FeatureTextToImage, domain.GenerationRequest{Prompt: "  a lighthouse  "})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.ID == "" || job.Status != domain.JobStatusPending {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(jobs.created) != 1 {
		t.Fatalf("expected one create call, got %d", len(jobs.created))
	}
	var stored domain.GenerationRequest
	if err := json.Unmarshal(job.RequestJSON, &stored); err != nil {
		t.Fatalf("stored request not decodable: %v", err)
	}
	if stored.Prompt != "a lighthouse" {
		t.Fatalf("expected normalized prompt, got %q", stored.Prompt)
	}
	if stored.Width != domain.DefaultSize || stored.BatchSize != 1 {
		t.Fatalf("expected normalized defaults, got %+v", stored)
	}
}

func TestEnqueueRejectsInvalidRequest(t *testing.T) {
	jobs := &fakeJobs{}
	svc := newTestService(t, jobs, &fakeAssets{}, &fakeStore{})

	_, err := svc.Enqueue(context.Background(), "", domain.FeatureTextToImage, domain.GenerationRequest{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(jobs.created) != 0 {
		t.Fatalf("expected no create call, got %d", len(jobs.created))
	}
}

func TestProcessCompletesJobAndPinsOutputs(t *testing.T) {
	jobs := &fakeJobs{}
	assets := &fakeAssets{}
	store := &fakeStore{}
	gemini := &stubBackend{name: "gemini", configured: true, result: domain.GenerationResult{
		Status:  domain.StatusCompleted,
		Outputs: []string{"https://cdn.example.com/raw/out.png"},
		Seed:    99,
		Model:   "img-1",
	}}
	svc := newTestService(t, jobs, assets, store, gemini)

	job := &domain.Job{
		ID:          "job-1",
		Feature:     domain.FeatureTextToImage,
		Status:      domain.JobStatusProcessing,
		RequestJSON: mustRequestJSON(t, domain.GenerationRequest{Prompt: "a lighthouse"}),
	}
	execution := svc.Process(context.Background(), job)
	if !execution.Success {
		t.Fatalf("expected success, got %+v", execution)
	}
	if len(jobs.completed) != 1 || jobs.completed[0].backend != "gemini" {
		t.Fatalf("unexpected completions %+v", jobs.completed)
	}
	if len(jobs.completed[0].attempts) == 0 {
		t.Fatal("expected attempts json on completion")
	}
	if len(store.uploads) != 1 || store.uploads[0] != "https://cdn.example.com/raw/out.png" {
		t.Fatalf("unexpected uploads %v", store.uploads)
	}
	if len(assets.saved) != 1 {
		t.Fatalf("expected one asset, got %d", len(assets.saved))
	}
	saved := assets.saved[0]
	if saved.Kind != domain.AssetKindImage || saved.Backend != "gemini" || saved.Seed != 99 {
		t.Fatalf("unexpected asset %+v", saved)
	}
	if !strings.HasPrefix(saved.URL, "http://files.local/generations/job-1/") || !strings.HasSuffix(saved.URL, ".png") {
		t.Fatalf("expected pinned local url, got %q", saved.URL)
	}
}

func TestProcessKeepsLocalOutputsUnpinned(t *testing.T) {
	jobs := &fakeJobs{}
	assets := &fakeAssets{}
	store := &fakeStore{}
	comfy := &stubBackend{name: "comfy", configured: true, result: domain.GenerationResult{
		Status:  domain.StatusCompleted,
		Outputs: []string{"http://files.local/generations/abc.png"},
	}}
	svc := newTestService(t, jobs, assets, store, comfy)

	job := &domain.Job{
		ID:          "job-2",
		Feature:     domain.FeatureTextToImage,
		RequestJSON: mustRequestJSON(t, domain.GenerationRequest{Prompt: "dunes"}),
	}
	svc.Process(context.Background(), job)
	if len(store.uploads) != 0 {
		t.Fatalf("expected no uploads for local url, got %v", store.uploads)
	}
	if len(assets.saved) != 1 || assets.saved[0].URL != "http://files.local/generations/abc.png" {
		t.Fatalf("unexpected assets %+v", assets.saved)
	}
}

func TestProcessKeepsRemoteURLWhenPinFails(t *testing.T) {
	jobs := &fakeJobs{}
	assets := &fakeAssets{}
	store := &fakeStore{uploadErr: errors.New("disk full")}
	replicate := &stubBackend{name: "replicate", configured: true, result: domain.GenerationResult{
		Status:  domain.StatusCompleted,
		Outputs: []string{"https://replicate.delivery/pbxt/out.webp"},
	}}
	svc := newTestService(t, jobs, assets, store, replicate)

	job := &domain.Job{
		ID:          "job-3",
		Feature:     domain.FeatureTextToImage,
		RequestJSON: mustRequestJSON(t, domain.GenerationRequest{Prompt: "dunes"}),
	}
	execution := svc.Process(context.Background(), job)
	if !execution.Success {
		t.Fatalf("pin failure must not fail the job: %+v", execution)
	}
	if len(assets.saved) != 1 || assets.saved[0].URL != "https://replicate.delivery/pbxt/out.webp" {
		t.Fatalf("expected original url kept, got %+v", assets.saved)
	}
}

func TestProcessMarksFailureWithAttempts(t *testing.T) {
	jobs := &fakeJobs{}
	qwen := &stubBackend{name: "qwen", configured: true, result: domain.FailedResult(domain.ErrorKindExecution, errors.New("content blocked"))}
	svc := newTestService(t, jobs, &fakeAssets{}, &fakeStore{}, qwen)

	job := &domain.Job{
		ID:          "job-4",
		Feature:     domain.FeatureTextToImage,
		RequestJSON: mustRequestJSON(t, domain.GenerationRequest{Prompt: "dunes"}),
	}
	execution := svc.Process(context.Background(), job)
	if execution.Success {
		t.Fatal("expected failure")
	}
	if len(jobs.failed) != 1 {
		t.Fatalf("expected one failure call, got %d", len(jobs.failed))
	}
	call := jobs.failed[0]
	if call.kind != domain.ErrorKindExhausted {
		t.Fatalf("expected exhausted kind, got %q", call.kind)
	}
	if !strings.Contains(call.message, "content blocked") {
		t.Fatalf("expected last error in message, got %q", call.message)
	}
	var records []domain.AttemptRecord
	if err := json.Unmarshal(call.attempts, &records); err != nil || len(records) != 1 {
		t.Fatalf("expected one attempt record, got %s (%v)", call.attempts, err)
	}
}

func TestProcessFailsOnCorruptRequest(t *testing.T) {
	jobs := &fakeJobs{}
	svc := newTestService(t, jobs, &fakeAssets{}, &fakeStore{})

	job := &domain.Job{ID: "job-5", Feature: domain.FeatureTextToImage, RequestJSON: []byte("{not json")}
	execution := svc.Process(context.Background(), job)
	if execution.Success {
		t.Fatal("expected failure")
	}
	if len(jobs.failed) != 1 || jobs.failed[0].kind != domain.ErrorKindConfig {
		t.Fatalf("expected config failure, got %+v", jobs.failed)
	}
}

func TestProcessFailsWhenAssetSaveFails(t *testing.T) {
	jobs := &fakeJobs{}
	assets := &fakeAssets{saveErr: errors.New("constraint violation")}
	comfy := &stubBackend{name: "comfy", configured: true, result: domain.GenerationResult{
		Status:  domain.StatusCompleted,
		Outputs: []string{"http://files.local/out.png"},
	}}
	svc := newTestService(t, jobs, assets, &fakeStore{}, comfy)

	job := &domain.Job{
		ID:          "job-6",
		Feature:     domain.FeatureTextToImage,
		RequestJSON: mustRequestJSON(t, domain.GenerationRequest{Prompt: "dunes"}),
	}
	execution := svc.Process(context.Background(), job)
	if execution.Success {
		t.Fatal("expected failure when assets cannot be saved")
	}
	if len(jobs.completed) != 0 {
		t.Fatalf("job must not complete without assets, got %+v", jobs.completed)
	}
	if len(jobs.failed) != 1 || jobs.failed[0].kind != domain.ErrorKindTransient {
		t.Fatalf("expected transient failure, got %+v", jobs.failed)
	}
}

func TestProcessNextPassesThroughEmptyQueue(t *testing.T) {
	jobs := &fakeJobs{claimErr: domain.ErrNoJobAvailable}
	svc := newTestService(t, jobs, &fakeAssets{}, &fakeStore{})

	_, err := svc.ProcessNext(context.Background())
	if !errors.Is(err, domain.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable, got %v", err)
	}
}

func TestBackendsReportsStatus(t *testing.T) {
	ready := &stubBackend{name: "comfy", configured: true}
	idle := &stubBackend{name: "gemini", configured: false}
	svc := newTestService(t, &fakeJobs{}, &fakeAssets{}, &fakeStore{}, ready, idle)

	statuses := svc.Backends(context.Background())
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	byName := map[string]BackendStatus{}
	for _, s := range statuses {
		byName[s.Name] = s
	}
	if !byName["comfy"].Configured || !byName["comfy"].Available {
		t.Fatalf("expected comfy ready, got %+v", byName["comfy"])
	}
	if byName["gemini"].Configured || byName["gemini"].Available {
		t.Fatalf("expected gemini unconfigured, got %+v", byName["gemini"])
	}
}
