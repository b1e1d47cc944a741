package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/orchestrator"
)

// Orchestrator is the slice of the generation service the API needs.
type Orchestrator interface {
	Enqueue(ctx context.Context, ownerID string, feature domain.Feature, req domain.GenerationRequest) (*domain.Job, error)
	Job(ctx context.Context, jobID string) (*domain.Job, error)
	JobAssets(ctx context.Context, jobID string) ([]domain.Asset, error)
	Backends(ctx context.Context) []orchestrator.BackendStatus
	Features() []domain.Feature
}

// App bundles the handler dependencies.
type App struct {
	Config  *infra.Config
	Logger  zerolog.Logger
	Service Orchestrator
}

func NewApp(cfg *infra.Config, logger zerolog.Logger, svc Orchestrator) *App {
	return &App{Config: cfg, Logger: logger, Service: svc}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{"error": errorBody{Code: code, Message: message}})
}
