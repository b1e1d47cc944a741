package handlers

import (
	"net/http"
	"strings"

	"mediaforge/internal/domain"
)

// VideosGenerate enqueues a video job. A request carrying a source image is
// treated as image-to-video, otherwise text-to-video.
func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeGenerate(w, r)
	if !ok {
		return
	}
	feature := domain.FeatureTextToVideo
	if strings.TrimSpace(req.SourceImageURL) != "" {
		feature = domain.FeatureImageToVideo
	}
	a.submit(w, r, feature, req)
}
