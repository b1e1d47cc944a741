package infra

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"
)

const readHeaderTimeout = 5 * time.Second

// HTTPServer wraps http.Server with the service's timeouts and log plumbing.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer builds the API server. Internal http.Server errors (header
// parse failures, hijack noise) land in the service log instead of stderr.
func NewHTTPServer(cfg *Config, logger Logger, handler http.Handler) *HTTPServer {
	return &HTTPServer{server: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ErrorLog:          log.New(serverErrorWriter{logger: logger}, "", 0),
	}}
}

type serverErrorWriter struct {
	logger Logger
}

func (w serverErrorWriter) Write(p []byte) (int, error) {
	w.logger.Warn().Msg(strings.TrimSpace(string(p)))
	return len(p), nil
}

// Start runs the HTTP server in the current goroutine.
func (s *HTTPServer) Start() error {
	if s.server == nil {
		return nil
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
