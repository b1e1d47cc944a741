package handlers

import (
	"context"
	"net/http"
	"time"
)

const backendProbeBudget = 5 * time.Second

// Backends reports every registered backend with its availability, plus the
// features that currently have at least one configured backend.
func (a *App) Backends(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), backendProbeBudget)
	defer cancel()
	statuses := a.Service.Backends(ctx)
	features := a.Service.Features()
	names := make([]string, 0, len(features))
	for _, f := range features {
		names = append(names, string(f))
	}
	a.json(w, http.StatusOK, map[string]any{
		"items":    statuses,
		"features": names,
	})
}
