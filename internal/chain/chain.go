package chain

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
)

const defaultProbeTimeout = 5 * time.Second

// Backend is the contract the executor needs from a generation backend.
// Generate reports failures inside the result and must not return partial
// output on error.
type Backend interface {
	Name() string
	Available(ctx context.Context) bool
	Generate(ctx context.Context, feature domain.Feature, req domain.GenerationRequest) domain.GenerationResult
}

// Candidate pairs a backend with its position in a feature chain. Lower
// priority values run first.
type Candidate struct {
	Backend  Backend
	Priority int
}

// Options configures the chain executor.
type Options struct {
	Logger       *infra.Logger
	ProbeTimeout time.Duration
	Retry        RetryPolicy
}

// Executor walks a feature's backend chain: it probes every candidate
// concurrently, then tries the available ones in priority order, retrying
// each on transient failures before falling through to the next.
type Executor struct {
	logger       *infra.Logger
	probeTimeout time.Duration
	retry        RetryPolicy
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an executor with defaulted timings.
func NewExecutor(opts Options) *Executor {
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	retry := opts.Retry
	if retry.Attempts == 0 {
		retry = DefaultRetryPolicy()
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Executor{
		logger:       logger,
		probeTimeout: probeTimeout,
		retry:        retry.normalized(),
		sleep:        sleepContext,
	}
}

// Execute runs the request through the chain and reports every backend that
// was tried. It never panics; a chain with no usable backend comes back as a
// failed execution with zero attempts.
func (e *Executor) Execute(ctx context.Context, feature domain.Feature, req domain.GenerationRequest, candidates []Candidate) domain.ChainExecution {
	start := time.Now()
	execution := domain.ChainExecution{
		Feature:  feature,
		Attempts: make([]domain.AttemptRecord, 0, len(candidates)),
	}

	if len(candidates) == 0 {
		execution.FinalError = fmt.Sprintf("no backends configured for %s", feature)
		execution.Duration = time.Since(start)
		return execution
	}

	available := e.filterAvailable(ctx, candidates)
	if len(available) == 0 {
		execution.FinalError = fmt.Sprintf("no backends available for %s (probed %s)", feature, joinNames(candidates))
		execution.Duration = time.Since(start)
		return execution
	}

	var lastErr string
	for _, candidate := range available {
		backend := candidate.Backend
		attemptStart := time.Now()
		result := e.generateWithRetry(ctx, backend, feature, req)
		record := domain.AttemptRecord{
			Backend:  backend.Name(),
			Success:  result.Succeeded(),
			Duration: time.Since(attemptStart),
			Error:    result.Error,
		}
		execution.Attempts = append(execution.Attempts, record)

		if result.Succeeded() {
			result.Backend = backend.Name()
			execution.Success = true
			execution.Result = result
			execution.Duration = time.Since(start)
			e.logger.Info().
				Str("feature", string(feature)).
				Str("backend", backend.Name()).
				Int("outputs", len(result.Outputs)).
				Dur("duration", execution.Duration).
				Msg("chain: generation succeeded")
			return execution
		}

		lastErr = result.Error
		e.logger.Warn().
			Str("feature", string(feature)).
			Str("backend", backend.Name()).
			Str("error_kind", string(result.ErrorKind)).
			Str("error", result.Error).
			Msg("chain: backend failed, falling through")

		if ctx.Err() != nil {
			break
		}
	}

	execution.FinalError = fmt.Sprintf("all backends failed for %s (%s)", feature, strings.Join(execution.TriedBackends(), ", "))
	if lastErr != "" {
		execution.FinalError += ": " + lastErr
	}
	execution.Result = domain.GenerationResult{
		Status:    domain.StatusFailed,
		ErrorKind: domain.ErrorKindExhausted,
		Error:     execution.FinalError,
	}
	execution.Duration = time.Since(start)
	return execution
}

// filterAvailable probes every candidate in parallel and keeps the available
// ones in their original priority order.
func (e *Executor) filterAvailable(ctx context.Context, candidates []Candidate) []Candidate {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	results := make([]bool, len(ordered))
	var wg sync.WaitGroup
	for i, candidate := range ordered {
		wg.Add(1)
		go func(i int, c Candidate) {
			defer wg.Done()
			results[i] = probeBackend(ctx, c.Backend, e.probeTimeout)
		}(i, candidate)
	}
	wg.Wait()

	available := make([]Candidate, 0, len(ordered))
	for i, ok := range results {
		if ok {
			available = append(available, ordered[i])
			continue
		}
		e.logger.Debug().Str("backend", ordered[i].Backend.Name()).Msg("chain: backend unavailable, skipping")
	}
	return available
}

// generateWithRetry runs one backend up to the retry budget. Only transient
// and resource failures are retried; config and execution failures fall
// through immediately.
func (e *Executor) generateWithRetry(ctx context.Context, backend Backend, feature domain.Feature, req domain.GenerationRequest) domain.GenerationResult {
	var result domain.GenerationResult
	for attempt := 1; attempt <= e.retry.Attempts; attempt++ {
		result = safeGenerate(ctx, backend, feature, req)
		if result.Succeeded() || !result.ErrorKind.Retryable() {
			return result
		}
		if attempt == e.retry.Attempts {
			break
		}
		delay := e.retry.Delay(attempt)
		e.logger.Debug().
			Str("backend", backend.Name()).
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("error", result.Error).
			Msg("chain: retrying backend")
		if err := e.sleep(ctx, delay); err != nil {
			return result
		}
	}
	return result
}

// safeGenerate shields the chain from a panicking backend.
func safeGenerate(ctx context.Context, backend Backend, feature domain.Feature, req domain.GenerationRequest) (result domain.GenerationResult) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.FailedResult(domain.ErrorKindTransient, fmt.Errorf("backend %s panicked: %v", backend.Name(), r))
		}
	}()
	return backend.Generate(ctx, feature, req)
}

func joinNames(candidates []Candidate) string {
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		names = append(names, c.Backend.Name())
	}
	return strings.Join(names, ", ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
