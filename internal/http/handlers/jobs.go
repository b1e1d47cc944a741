package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mediaforge/internal/domain"
	"mediaforge/pkg/zip"
)

type jobDetail struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id,omitempty"`
	Feature   string          `json:"feature"`
	Status    string          `json:"status"`
	Backend   string          `json:"backend,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
	Attempts  json.RawMessage `json:"attempts,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type assetItem struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	URL       string    `json:"url"`
	Backend   string    `json:"backend,omitempty"`
	Seed      int64     `json:"seed,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, jobDetail{
		ID:        job.ID,
		OwnerID:   job.OwnerID,
		Feature:   string(job.Feature),
		Status:    string(job.Status),
		Backend:   job.Backend,
		ErrorKind: string(job.ErrorKind),
		Error:     job.ErrorMessage,
		Request:   json.RawMessage(job.RequestJSON),
		Attempts:  json.RawMessage(job.AttemptsJSON),
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	})
}

func (a *App) JobAssets(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	assets, err := a.Service.JobAssets(r.Context(), job.ID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load assets")
		return
	}
	items := make([]assetItem, 0, len(assets))
	for _, asset := range assets {
		items = append(items, assetItem{
			ID:        asset.ID,
			Kind:      string(asset.Kind),
			URL:       asset.URL,
			Backend:   asset.Backend,
			Seed:      asset.Seed,
			CreatedAt: asset.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) JobZip(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJob(w, r)
	if !ok {
		return
	}
	assets, err := a.Service.JobAssets(r.Context(), job.ID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load assets")
		return
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "job has no assets")
		return
	}
	entries := make([]zip.Asset, 0, len(assets))
	for _, asset := range assets {
		entries = append(entries, zip.Asset{
			Filename: asset.ID + assetExt(asset),
			Data:     a.loadAssetData(asset.URL),
		})
	}
	archive, err := zip.ArchiveAssets(entries)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("zip archive failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", job.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) loadJob(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return nil, false
	}
	job, err := a.Service.Job(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
		} else {
			a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		}
		return nil, false
	}
	return job, true
}

// loadAssetData reads a locally stored asset from disk. Remote URLs are
// embedded as link text so the archive still accounts for every asset.
func (a *App) loadAssetData(rawURL string) []byte {
	base := strings.TrimRight(a.Config.StorageBaseURL, "/")
	if base == "" || !strings.HasPrefix(rawURL, base+"/") {
		return []byte(rawURL)
	}
	key := strings.TrimPrefix(rawURL, base+"/")
	full := filepath.Join(a.Config.StoragePath, filepath.FromSlash(key))
	data, err := os.ReadFile(full)
	if err != nil {
		a.Logger.Warn().Err(err).Str("key", key).Msg("asset read failed")
		return []byte(rawURL)
	}
	return data
}

func assetExt(asset domain.Asset) string {
	if ext := strings.ToLower(path.Ext(asset.URL)); ext != "" && len(ext) <= 6 && !strings.ContainsAny(ext, "?&=") {
		return ext
	}
	if asset.Kind == domain.AssetKindVideo {
		return ".mp4"
	}
	return ".png"
}
