package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"mediaforge/internal/http/handlers"
	"mediaforge/internal/middleware"
)

// NewRouter wires the API surface. Generation endpoints sit behind the rate
// limiter; job reads and static files do not.
func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP, chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(app.Logger))
	if len(app.Config.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(app.Config.AllowedOrigins))
	}

	limited := middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/backends", app.Backends)

	r.Route("/v1/images", func(r chi.Router) {
		r.With(limited).Post("/generations", app.ImagesGenerate)
		r.With(limited).Post("/enhancements", app.ImagesEnhance)
		r.With(limited).Post("/upscales", app.ImagesUpscale)
	})

	r.Route("/v1/videos", func(r chi.Router) {
		r.With(limited).Post("/generations", app.VideosGenerate)
	})

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/{job_id}", app.JobStatus)
		r.Get("/{job_id}/assets", app.JobAssets)
		r.Get("/{job_id}/assets.zip", app.JobZip)
	})

	if prefix := staticPrefix(app.Config.StorageBaseURL); prefix != "" && app.Config.StoragePath != "" {
		fs := http.StripPrefix(prefix, http.FileServer(http.Dir(app.Config.StoragePath)))
		r.Handle(prefix+"*", fs)
	}

	return r
}

// staticPrefix extracts the local mount path from the storage base URL, e.g.
// "http://localhost:8080/static" yields "/static/". An empty path means the
// store is served elsewhere and nothing is mounted.
func staticPrefix(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return ""
	}
	idx := strings.Index(baseURL, "://")
	if idx < 0 {
		return ""
	}
	rest := baseURL[idx+3:]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return ""
	}
	p := strings.TrimRight(rest[slash:], "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
