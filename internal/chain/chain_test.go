package chain

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mediaforge/internal/domain"
)

type fakeBackend struct {
	name        string
	available   bool
	availableFn func(ctx context.Context) bool
	results     []domain.GenerationResult
	calls       int
	panics      bool
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Available(ctx context.Context) bool {
	if f.availableFn != nil {
		return f.availableFn(ctx)
	}
	return f.available
}

func (f *fakeBackend) Generate(ctx context.Context, feature domain.Feature, req domain.GenerationRequest) domain.GenerationResult {
	f.calls++
	if f.panics {
		panic("boom")
	}
	if len(f.results) == 0 {
		return domain.GenerationResult{Status: domain.StatusCompleted, Outputs: []string{"out.png"}}
	}
	result := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return result
}

func success() domain.GenerationResult {
	return domain.GenerationResult{Status: domain.StatusCompleted, Outputs: []string{"out.png"}}
}

func failure(kind domain.ErrorKind, msg string) domain.GenerationResult {
	return domain.FailedResult(kind, errors.New(msg))
}

func instantExecutor(t *testing.T, opts Options) *Executor {
	t.Helper()
	e := NewExecutor(opts)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e
}

func TestExecutePrefersLowestPriority(t *testing.T) {
	first := &fakeBackend{name: "comfy", available: true}
	second := &fakeBackend{name: "gemini", available: true}
	e := instantExecutor(t, Options{})

	execution := e.Execute(context.Background(), domain.FeatureTextToImage, domain.GenerationRequest{Prompt: "x"}, []Candidate{
		{Backend: second, Priority: 20},
		{Backend: first, Priority: 10},
	})

	if !execution.Success {
		t.Fatalf("execution failed: %s", execution.FinalError)
	}
	if execution.Result.Backend != "comfy" {
		t.Fatalf("backend = %q, want comfy", execution.Result.Backend)
	}
	if second.calls != 0 {
		t.Fatalf("gemini calls = %d, want 0 after comfy success", second.calls)
	}
	if len(execution.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(execution.Attempts))
	}
}

func TestExecuteSkipsUnavailableBackends(t *testing.T) {
	down := &fakeBackend{name: "comfy", available: false}
	up := &fakeBackend{name: "gemini", available: true}
	e := instantExecutor(t, Options{})

	execution := e.Execute(context.Background(), domain.FeatureTextToImage, domain.GenerationRequest{Prompt: "x"}, []Candidate{
		{Backend: down, Priority: 10},
		{Backend: up, Priority: 20},
	})

	if !execution.Success {
		t.Fatalf("execution failed: %s", execution.FinalError)
	}
	if execution.Result.Backend != "gemini" {
		t.Fatalf("backend = %q, want gemini", execution.Result.Backend)
	}
	if down.calls != 0 {
		t.Fatalf("unavailable backend was invoked %d times", down.calls)
	}
}

func TestExecuteFallsThroughAfterRetries(t *testing.T) {
	flaky := &fakeBackend{name: "comfy", available: true, results: []domain.GenerationResult{
		failure(domain.ErrorKindTransient, "connection reset"),
		failure(domain.ErrorKindTransient, "connection reset"),
		failure(domain.ErrorKindTransient, "connection reset"),
	}}
	steady := &fakeBackend{name: "gemini", available: true}
	e := instantExecutor(t, Options{})

	execution := e.Execute(context.Background(), domain.FeatureTextToImage, domain.GenerationRequest{Prompt: "x"}, []Candidate{
		{Backend: flaky, Priority: 10},
		{Backend: steady, Priority: 20},
	})

	if !execution.Success {
		t.Fatalf("execution failed: %s", execution.FinalError)
	}
	if flaky.calls != 3 {
		t.Fatalf("flaky calls = %d, want full retry budget of 3", flaky.calls)
	}
	if len(execution.Attempts) != 2 {
		t.Fatalf("attempts = %d, want one folded record per backend", len(execution.Attempts))
	}
	if execution.Attempts[0].Success || execution.Attempts[0].Backend != "comfy" {
		t.Fatalf("first attempt = %+v, want failed comfy record", execution.Attempts[0])
	}
	if !execution.Attempts[1].Success || execution.Attempts[1].Backend != "gemini" {
		t.Fatalf("second attempt = %+v, want successful gemini record", execution.Attempts[1])
	}
}

func TestExecuteDoesNotRetryExecutionErrors(t *testing.T) {
	broken := &fakeBackend{name: "comfy", available: true, results: []domain.GenerationResult{
		failure(domain.ErrorKindExecution, "missing model file"),
	}}
	e := instantExecutor(t, Options{})

	execution := e.Execute(context.Background(), domain.FeatureTextToImage, domain.GenerationRequest{Prompt: "x"}, []Candidate{
		{Backend: broken, Priority: 10},
	})

	if execution.Success {
		t.Fatalf("execution succeeded, want failure")
	}
	if broken.calls != 1 {
		t.Fatalf("calls = %d, want 1 for non-retryable failure", broken.calls)
	}
}

func TestExecuteTransientSucceedsOnRetry(t *testing.T) {
	flaky := &fakeBackend{name: "comfy", available: true, results: []domain.GenerationResult{
		failure(domain.ErrorKindTransient, "timeout"),
		success(),
	}}
	e := instantExecutor(t, Options{})

	execution := e.Execute(context.Background(), domain.FeatureTextToImage, domain.GenerationRequest{Prompt: "x"}, []Candidate{
		{Backend: flaky, Priority: 10},
	})

	if !execution.Success {
		t.Fatalf("execution failed: %s", execution.FinalError)
	}
	if flaky.calls != 2 {
		t.Fatalf("calls = %d, want 2", flaky.calls)
	}
	if len(execution.Attempts) != 1 || !execution.Attempts[0].Success {
		t.Fatalf("attempts = %+v, want single successful record", execution.Attempts)
	}
}

func TestExecuteAllBackendsFail(t *testing.T) {
	a := &fakeBackend{name: "comfy", available: true, results: []domain.GenerationResult{
		failure(domain.ErrorKindExecution, "bad graph"),
	}}
	b := &fakeBackend{name: "gemini", available: true, results: []domain.GenerationResult{
		failure(domain.ErrorKindConfig, "no api key"),
	}}
	e := instantExecutor(t, Options{})

	execution := e.Execute(context.Background(), domain.FeatureTextToImage, domain.GenerationRequest{Prompt: "x"}, []Candidate{
		{Backend: a, Priority: 10},
		{Backend: b, Priority: 20},
	})

	if execution.Success {
		t.Fatalf("execution succeeded, want failure")
	}
	if execution.Result.ErrorKind != domain.ErrorKindExhausted {
		t.Fatalf("error kind = %q, want exhausted", execution.Result.ErrorKind)
	}
	for _, name := range []string{"comfy", "gemini"} {
		if !strings.Contains(execution.FinalError, name) {
			t.Fatalf("final error %q does not name %s", execution.FinalError, name)
		}
	}
	if !strings.Contains(execution.FinalError, "no api key") {
		t.Fatalf("final error %q missing last backend error", execution.FinalError)
	}
}

func TestExecuteEmptyChain(t *testing.T) {
	e := instantExecutor(t, Options{})
	execution := e.Execute(context.Background(), domain.FeatureImageToVideo, domain.GenerationRequest{}, nil)
	if execution.Success {
		t.Fatalf("execution succeeded, want failure")
	}
	if len(execution.Attempts) != 0 {
		t.Fatalf("attempts = %d, want 0", len(execution.Attempts))
	}
	if !strings.Contains(execution.FinalError, "no backends configured") {
		t.Fatalf("final error = %q", execution.FinalError)
	}
}

func TestExecuteContainsPanickingProbe(t *testing.T) {
	angry := &fakeBackend{name: "comfy", availableFn: func(ctx context.Context) bool { panic("probe boom") }}
	calm := &fakeBackend{name: "gemini", available: true}
	e := instantExecutor(t, Options{})

	execution := e.Execute(context.Background(), domain.FeatureTextToImage, domain.GenerationRequest{Prompt: "x"}, []Candidate{
		{Backend: angry, Priority: 10},
		{Backend: calm, Priority: 20},
	})

	if !execution.Success {
		t.Fatalf("execution failed: %s", execution.FinalError)
	}
	if execution.Result.Backend != "gemini" {
		t.Fatalf("backend = %q, want gemini", execution.Result.Backend)
	}
}

func TestExecuteProbeTimeoutSkipsSlowBackend(t *testing.T) {
	slow := &fakeBackend{name: "comfy", availableFn: func(ctx context.Context) bool {
		<-ctx.Done()
		return true
	}}
	fast := &fakeBackend{name: "gemini", available: true}
	e := instantExecutor(t, Options{ProbeTimeout: 10 * time.Millisecond})

	execution := e.Execute(context.Background(), domain.FeatureTextToImage, domain.GenerationRequest{Prompt: "x"}, []Candidate{
		{Backend: slow, Priority: 10},
		{Backend: fast, Priority: 20},
	})

	if !execution.Success {
		t.Fatalf("execution failed: %s", execution.FinalError)
	}
	if execution.Result.Backend != "gemini" {
		t.Fatalf("backend = %q, want gemini", execution.Result.Backend)
	}
	if slow.calls != 0 {
		t.Fatalf("slow backend invoked %d times", slow.calls)
	}
}

func TestExecuteContainsPanickingGenerate(t *testing.T) {
	angry := &fakeBackend{name: "comfy", available: true, panics: true}
	calm := &fakeBackend{name: "gemini", available: true}
	e := instantExecutor(t, Options{Retry: RetryPolicy{Attempts: 1}})

	execution := e.Execute(context.Background(), domain.FeatureTextToImage, domain.GenerationRequest{Prompt: "x"}, []Candidate{
		{Backend: angry, Priority: 10},
		{Backend: calm, Priority: 20},
	})

	if !execution.Success {
		t.Fatalf("execution failed: %s", execution.FinalError)
	}
	if len(execution.Attempts) != 2 {
		t.Fatalf("attempts = %d, want panicked attempt recorded", len(execution.Attempts))
	}
	if !strings.Contains(execution.Attempts[0].Error, "panicked") {
		t.Fatalf("first attempt error = %q", execution.Attempts[0].Error)
	}
}

func TestRetryPolicyDelays(t *testing.T) {
	p := DefaultRetryPolicy()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 10 * time.Second},
		{8, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Fatalf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
