package handlers

import (
	"encoding/json"
	"net/http"

	"mediaforge/internal/domain"
)

type generateRequest struct {
	OwnerID        string  `json:"owner_id"`
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Seed           int64   `json:"seed"`
	SourceImageURL string  `json:"source_image_url"`
	Strength       float64 `json:"strength"`
	BatchSize      int     `json:"batch_size"`
	Model          string  `json:"model"`
}

func (r generateRequest) toDomain() domain.GenerationRequest {
	return domain.GenerationRequest{
		Prompt:         r.Prompt,
		NegativePrompt: r.NegativePrompt,
		Width:          r.Width,
		Height:         r.Height,
		Steps:          r.Steps,
		GuidanceScale:  r.GuidanceScale,
		Seed:           r.Seed,
		SourceImageURL: r.SourceImageURL,
		Strength:       r.Strength,
		BatchSize:      r.BatchSize,
		Model:          r.Model,
	}
}

type jobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeGenerate(w, r)
	if !ok {
		return
	}
	a.submit(w, r, domain.FeatureTextToImage, req)
}

func (a *App) ImagesEnhance(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeGenerate(w, r)
	if !ok {
		return
	}
	a.submit(w, r, domain.FeatureImageToImage, req)
}

func (a *App) ImagesUpscale(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeGenerate(w, r)
	if !ok {
		return
	}
	a.submit(w, r, domain.FeatureUpscale, req)
}

func (a *App) decodeGenerate(w http.ResponseWriter, r *http.Request) (generateRequest, bool) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return generateRequest{}, false
	}
	return req, true
}

func (a *App) submit(w http.ResponseWriter, r *http.Request, feature domain.Feature, req generateRequest) {
	job, err := a.Service.Enqueue(r.Context(), req.OwnerID, feature, req.toDomain())
	if err != nil {
		a.error(w, http.StatusUnprocessableEntity, "invalid_request", err.Error())
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: job.ID, Status: string(job.Status)})
}
