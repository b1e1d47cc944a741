package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mediaforge/internal/backend"
	"mediaforge/internal/chain"
	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
)

// AssetStore is the slice of the file store the orchestrator needs to pin
// remote outputs locally.
type AssetStore interface {
	UploadFromURL(ctx context.Context, key, sourceURL string) (string, error)
	IsLocal(rawURL string) bool
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Registry *backend.Registry
	Executor *chain.Executor
	Jobs     domain.JobRepository
	Assets   domain.AssetRepository
	Store    AssetStore
	Logger   *infra.Logger
}

// Service owns the job lifecycle: enqueueing requests, walking the backend
// chain for claimed jobs, and persisting outcomes and assets.
type Service struct {
	registry *backend.Registry
	executor *chain.Executor
	jobs     domain.JobRepository
	assets   domain.AssetRepository
	store    AssetStore
	logger   *infra.Logger
}

// BackendStatus is the reported state of one backend.
type BackendStatus struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Configured  bool   `json:"configured"`
	Available   bool   `json:"available"`
}

// NewService validates and assembles the orchestrator.
func NewService(opts Options) (*Service, error) {
	if opts.Registry == nil {
		return nil, errors.New("orchestrator: registry is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("orchestrator: executor is required")
	}
	if opts.Jobs == nil || opts.Assets == nil {
		return nil, errors.New("orchestrator: repositories are required")
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Service{
		registry: opts.Registry,
		executor: opts.Executor,
		jobs:     opts.Jobs,
		assets:   opts.Assets,
		store:    opts.Store,
		logger:   logger,
	}, nil
}

// Enqueue validates a request and persists it as a pending job.
func (s *Service) Enqueue(ctx context.Context, ownerID string, feature domain.Feature, req domain.GenerationRequest) (*domain.Job, error) {
	req = req.Normalized()
	if err := req.Validate(feature); err != nil {
		return nil, err
	}
	requestJSON, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: encode request: %w", err)
	}
	job := &domain.Job{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Feature:     feature,
		Status:      domain.JobStatusPending,
		RequestJSON: requestJSON,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("orchestrator: create job: %w", err)
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("feature", string(feature)).
		Msg("orchestrator: job enqueued")
	return job, nil
}

// ProcessNext claims the oldest pending job and runs it to completion.
// domain.ErrNoJobAvailable passes through untouched so pollers can idle.
func (s *Service) ProcessNext(ctx context.Context) (*domain.Job, error) {
	job, err := s.jobs.Claim(ctx)
	if err != nil {
		return nil, err
	}
	s.Process(ctx, job)
	return job, nil
}

// Process walks the backend chain for a claimed job and persists the outcome.
// It never panics and never returns an error: every failure mode ends in a
// failed job row.
func (s *Service) Process(ctx context.Context, job *domain.Job) (execution domain.ChainExecution) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("orchestrator: job processing panicked: %v", r)
			s.logger.Error().Str("job_id", job.ID).Msg(msg)
			s.failJob(ctx, job, domain.ErrorKindTransient, msg, nil)
			execution = domain.ChainExecution{Feature: job.Feature, FinalError: msg}
		}
	}()

	var req domain.GenerationRequest
	if err := json.Unmarshal(job.RequestJSON, &req); err != nil {
		msg := fmt.Sprintf("orchestrator: decode stored request: %v", err)
		s.failJob(ctx, job, domain.ErrorKindConfig, msg, nil)
		return domain.ChainExecution{Feature: job.Feature, FinalError: msg}
	}

	execution = s.executor.Execute(ctx, job.Feature, req, s.registry.ChainFor(job.Feature))
	attemptsJSON, err := json.Marshal(execution.Attempts)
	if err != nil {
		attemptsJSON = nil
	}

	if !execution.Success {
		kind := execution.Result.ErrorKind
		if kind == "" {
			kind = domain.ErrorKindExhausted
		}
		s.failJob(ctx, job, kind, execution.FinalError, attemptsJSON)
		return execution
	}

	outputs := s.persistOutputs(ctx, job, execution.Result)
	assets := make([]domain.Asset, 0, len(outputs))
	for _, output := range outputs {
		assets = append(assets, domain.Asset{
			JobID:   job.ID,
			Kind:    domain.KindForFeature(job.Feature),
			URL:     output,
			Backend: execution.Result.Backend,
			Seed:    execution.Result.Seed,
		})
	}
	if err := s.assets.SaveAll(ctx, job.ID, assets); err != nil {
		msg := fmt.Sprintf("orchestrator: persist assets: %v", err)
		s.failJob(ctx, job, domain.ErrorKindTransient, msg, attemptsJSON)
		execution.Success = false
		execution.FinalError = msg
		return execution
	}
	if err := s.jobs.MarkCompleted(ctx, job.ID, execution.Result.Backend, attemptsJSON); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: mark completed failed")
	}
	s.logger.Info().
		Str("job_id", job.ID).
		Str("backend", execution.Result.Backend).
		Int("assets", len(assets)).
		Msg("orchestrator: job completed")
	return execution
}

// Job fetches one job row.
func (s *Service) Job(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// JobAssets lists the assets a job produced.
func (s *Service) JobAssets(ctx context.Context, jobID string) ([]domain.Asset, error) {
	return s.assets.ListByJobID(ctx, jobID)
}

// Backends reports the configured/available state of every backend.
func (s *Service) Backends(ctx context.Context) []BackendStatus {
	all := s.registry.All()
	statuses := make([]BackendStatus, 0, len(all))
	for _, b := range all {
		status := BackendStatus{
			Name:        b.Name(),
			DisplayName: b.DisplayName(),
			Configured:  b.Configured(),
		}
		if status.Configured {
			status.Available = b.Available(ctx)
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// Features lists the features that currently have a usable chain.
func (s *Service) Features() []domain.Feature {
	return s.registry.Features()
}

func (s *Service) failJob(ctx context.Context, job *domain.Job, kind domain.ErrorKind, message string, attemptsJSON []byte) {
	if err := s.jobs.MarkFailed(ctx, job.ID, kind, message, attemptsJSON); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("orchestrator: mark failed failed")
	}
	s.logger.Warn().
		Str("job_id", job.ID).
		Str("error_kind", string(kind)).
		Str("error", message).
		Msg("orchestrator: job failed")
}

// persistOutputs copies remote outputs into local storage so results outlive
// provider-side URL expiry. A copy failure keeps the original URL.
func (s *Service) persistOutputs(ctx context.Context, job *domain.Job, result domain.GenerationResult) []string {
	outputs := make([]string, 0, len(result.Outputs))
	for _, output := range result.Outputs {
		if s.store == nil || s.store.IsLocal(output) || !isHTTPURL(output) {
			outputs = append(outputs, output)
			continue
		}
		key := path.Join("generations", job.ID, uuid.NewString()+outputExt(output, job.Feature))
		stored, err := s.store.UploadFromURL(ctx, key, output)
		if err != nil {
			s.logger.Warn().Err(err).Str("url", output).Msg("orchestrator: pin output failed, keeping remote url")
			outputs = append(outputs, output)
			continue
		}
		outputs = append(outputs, stored)
	}
	return outputs
}

func isHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

func outputExt(rawURL string, feature domain.Feature) string {
	if parsed, err := url.Parse(rawURL); err == nil {
		if ext := strings.ToLower(path.Ext(parsed.Path)); ext != "" && len(ext) <= 6 {
			return ext
		}
	}
	if feature.IsVideo() {
		return ".mp4"
	}
	return ".png"
}
