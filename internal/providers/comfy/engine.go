package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
)

const (
	recoverStepWait   = time.Second
	recoverSettleWait = 3 * time.Second
	freeSettleWait    = time.Second
	queueCheckEvery   = 5
	jobAttempts       = 2
)

// EngineOptions configures the local GPU job engine.
type EngineOptions struct {
	Client       *Client
	Models       Models
	Logger       *infra.Logger
	PollInterval time.Duration
	ImageTimeout time.Duration
	VideoTimeout time.Duration
	// StuckWindow bounds how long a submitted prompt may stay invisible,
	// in history and queue alike, before the engine is declared stuck.
	StuckWindow     time.Duration
	HealthThreshold int
	HealthWindow    time.Duration
	FreeVRAMEachJob bool
}

// Engine drives one ComfyUI server: readiness, workflow execution with
// stuck detection, and multi-step recovery when the server misbehaves.
type Engine struct {
	client          *Client
	models          Models
	logger          *infra.Logger
	health          *HealthTracker
	pollInterval    time.Duration
	imageTimeout    time.Duration
	videoTimeout    time.Duration
	stuckWindow     time.Duration
	healthThreshold int
	healthWindow    time.Duration
	freeEachJob     bool

	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// Job is one workflow submission; Video selects the longer poll ceiling.
type Job struct {
	Graph *Graph
	Video bool
}

// NewEngine constructs an engine with sane defaults around the client.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Client == nil {
		return nil, errors.New("comfy: client is required")
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	imageTimeout := opts.ImageTimeout
	if imageTimeout <= 0 {
		imageTimeout = 3 * time.Minute
	}
	videoTimeout := opts.VideoTimeout
	if videoTimeout <= 0 {
		videoTimeout = 10 * time.Minute
	}
	stuckWindow := opts.StuckWindow
	if stuckWindow <= 0 {
		stuckWindow = 90 * time.Second
	}
	threshold := opts.HealthThreshold
	if threshold <= 0 {
		threshold = 3
	}
	healthWindow := opts.HealthWindow
	if healthWindow <= 0 {
		healthWindow = 30 * time.Second
	}
	return &Engine{
		client:          opts.Client,
		models:          opts.Models,
		logger:          logger,
		health:          NewHealthTracker(),
		pollInterval:    pollInterval,
		imageTimeout:    imageTimeout,
		videoTimeout:    videoTimeout,
		stuckWindow:     stuckWindow,
		healthThreshold: threshold,
		healthWindow:    healthWindow,
		freeEachJob:     opts.FreeVRAMEachJob,
		sleep:           sleepContext,
		now:             time.Now,
	}, nil
}

// Health exposes the tracker for status reporting.
func (e *Engine) Health() *HealthTracker {
	return e.health
}

// EnsureReady reports whether the engine can take work. A recent healthy
// observation short-circuits the live probe; reaching the failure threshold
// triggers one recovery pass followed by a single re-probe.
func (e *Engine) EnsureReady(ctx context.Context) bool {
	if e.health.RecentlyHealthy(e.healthWindow) {
		return true
	}
	if e.probe(ctx) {
		e.health.RecordSuccess()
		return true
	}
	failures := e.health.RecordFailure()
	e.logger.Warn().Int("consecutive_failures", failures).Msg("comfy: probe failed")
	if !e.health.IsUnhealthy(e.healthThreshold) {
		return false
	}
	e.Recover(ctx)
	if e.probe(ctx) {
		e.health.RecordSuccess()
		return true
	}
	e.health.RecordFailure()
	return false
}

func (e *Engine) probe(ctx context.Context) bool {
	stats, err := e.client.SystemStats(ctx)
	if err != nil {
		e.logger.Debug().Err(err).Msg("comfy: system stats unavailable")
		return false
	}
	for _, d := range stats.Devices {
		e.logger.Debug().
			Str("device", d.Name).
			Int64("vram_free", d.VRAMFree).
			Int64("vram_total", d.VRAMTotal).
			Msg("comfy: device stats")
	}
	return true
}

// Recover walks the engine back to a clean state: interrupt the running
// prompt, drop pending work, unload models, then let the server settle.
// Every step is best-effort; a dead server fails them all quickly.
func (e *Engine) Recover(ctx context.Context) {
	e.logger.Warn().Msg("comfy: starting engine recovery")
	if err := e.client.Interrupt(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("comfy: interrupt failed")
	}
	e.sleep(ctx, recoverStepWait)
	if err := e.client.ClearQueue(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("comfy: clear queue failed")
	}
	e.sleep(ctx, recoverStepWait)
	if err := e.client.FreeMemory(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("comfy: free memory failed")
	}
	e.sleep(ctx, recoverSettleWait)
	e.logger.Info().Msg("comfy: engine recovery finished")
}

// FreeVRAM releases GPU memory and gives the server a beat to finish
// unloading before the next submission.
func (e *Engine) FreeVRAM(ctx context.Context) {
	if err := e.client.FreeMemory(ctx); err != nil {
		e.logger.Debug().Err(err).Msg("comfy: free memory failed")
		return
	}
	e.sleep(ctx, freeSettleWait)
}

// RunJob executes one workflow with up to two attempts. Recovery runs in
// full before the second attempt; execution failures are final immediately
// because resubmitting the same graph cannot change the outcome.
func (e *Engine) RunJob(ctx context.Context, job Job) domain.GenerationResult {
	var result domain.GenerationResult
	for attempt := 1; attempt <= jobAttempts; attempt++ {
		if attempt > 1 {
			e.logger.Warn().Int("attempt", attempt).Msg("comfy: retrying job after recovery")
			e.Recover(ctx)
		}
		result = e.runOnce(ctx, job)
		if result.Succeeded() || result.ErrorKind == domain.ErrorKindExecution {
			return result
		}
		if ctx.Err() != nil {
			return result
		}
	}
	return result
}

func (e *Engine) runOnce(ctx context.Context, job Job) domain.GenerationResult {
	if e.freeEachJob {
		e.FreeVRAM(ctx)
	}
	start := e.now()
	promptID, err := e.client.SubmitPrompt(ctx, job.Graph)
	if err != nil {
		kind, msg := classifySubmitFailure(err)
		if kind == domain.ErrorKindExecution {
			e.health.RecordSuccess()
		} else {
			e.health.RecordFailure()
		}
		e.logger.Warn().Str("error_kind", string(kind)).Str("error", msg).Msg("comfy: submission failed")
		return domain.FailedResult(kind, errors.New(msg))
	}
	e.logger.Info().Str("prompt_id", promptID).Bool("video", job.Video).Msg("comfy: job submitted")
	result := e.poll(ctx, promptID, job.Video)
	e.logger.Info().
		Str("prompt_id", promptID).
		Str("status", string(result.Status)).
		Int("outputs", len(result.Outputs)).
		Dur("duration", e.now().Sub(start)).
		Msg("comfy: job finished")
	return result
}

func (e *Engine) poll(ctx context.Context, promptID string, video bool) domain.GenerationResult {
	ceiling := e.imageTimeout
	if video {
		ceiling = e.videoTimeout
	}
	start := e.now()
	lastProgress := start
	polls := 0
	for {
		if err := e.sleep(ctx, e.pollInterval); err != nil {
			return domain.FailedResult(domain.ErrorKindTransient, fmt.Errorf("comfy: polling aborted: %w", err))
		}
		polls++
		entry, found, err := e.client.History(ctx, promptID)
		switch {
		case err != nil:
			// Transient poll faults are expected under load; the stuck
			// window keeps counting so a dead server still trips it.
			e.logger.Debug().Err(err).Str("prompt_id", promptID).Msg("comfy: history poll failed")
		case found:
			return e.finishFromHistory(promptID, entry)
		case polls%queueCheckEvery == 0:
			if q, qerr := e.client.Queue(ctx); qerr == nil && q.Has(promptID) {
				lastProgress = e.now()
			}
		}
		now := e.now()
		if now.Sub(lastProgress) > e.stuckWindow {
			e.health.RecordFailure()
			return domain.FailedResult(domain.ErrorKindResource,
				fmt.Errorf("comfy: engine stuck: prompt %s made no progress for %s", promptID, e.stuckWindow))
		}
		if now.Sub(start) > ceiling {
			e.health.RecordFailure()
			return domain.FailedResult(domain.ErrorKindResource,
				fmt.Errorf("comfy: prompt %s timed out after %s", promptID, ceiling))
		}
	}
}

func (e *Engine) finishFromHistory(promptID string, entry *HistoryEntry) domain.GenerationResult {
	if entry.Status.Completed {
		outputs := e.collectOutputs(entry)
		e.health.RecordSuccess()
		if len(outputs) == 0 {
			return domain.FailedResult(domain.ErrorKindExecution,
				fmt.Errorf("comfy: prompt %s completed without outputs", promptID))
		}
		return domain.GenerationResult{Status: domain.StatusCompleted, Outputs: outputs}
	}
	msg := executionErrorMessage(entry.Status)
	kind := domain.ErrorKindExecution
	if looksLikeMemoryPressure(msg) {
		kind = domain.ErrorKindResource
		e.health.RecordFailure()
	} else {
		e.health.RecordSuccess()
	}
	return domain.FailedResult(kind, fmt.Errorf("comfy: %s", msg))
}

func (e *Engine) collectOutputs(entry *HistoryEntry) []string {
	nodeIDs := make([]string, 0, len(entry.Outputs))
	for id := range entry.Outputs {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var outputs []string
	for _, id := range nodeIDs {
		node := entry.Outputs[id]
		for _, f := range node.Images {
			outputs = append(outputs, e.client.ViewURL(f))
		}
		for _, f := range node.Gifs {
			outputs = append(outputs, e.client.ViewURL(f))
		}
	}
	return outputs
}

func classifySubmitFailure(err error) (domain.ErrorKind, string) {
	var rejected *SubmitError
	if errors.As(err, &rejected) {
		detail := rejected.Detail()
		lower := strings.ToLower(detail)
		switch {
		case strings.Contains(lower, "value_not_in_list") || strings.Contains(lower, "not in list"):
			return domain.ErrorKindExecution, "missing model file: " + detail
		case strings.Contains(lower, "does not exist") || strings.Contains(lower, "invalid_prompt") || strings.Contains(lower, "class_type"):
			return domain.ErrorKindExecution, "unknown node type, custom node may be missing: " + detail
		default:
			return domain.ErrorKindExecution, detail
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindTransient, "submission timed out: " + err.Error()
	}
	return domain.ErrorKindTransient, err.Error()
}

func looksLikeMemoryPressure(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "out of memory") || strings.Contains(lower, "outofmemory") || strings.Contains(lower, "oom")
}

func executionErrorMessage(status ExecutionStatus) string {
	for _, raw := range status.Messages {
		var tuple []json.RawMessage
		if err := json.Unmarshal(raw, &tuple); err != nil || len(tuple) < 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(tuple[0], &name); err != nil || name != "execution_error" {
			continue
		}
		var payload struct {
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(tuple[1], &payload); err == nil && payload.ExceptionMessage != "" {
			if payload.NodeType != "" {
				return payload.NodeType + ": " + payload.ExceptionMessage
			}
			return payload.ExceptionMessage
		}
	}
	if status.StatusStr != "" {
		return "execution failed with status " + status.StatusStr
	}
	return "execution failed"
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
