package handlers

import (
	"net/http"
)

// Health is the liveness probe. It deliberately checks nothing downstream;
// backend availability is what the backends endpoint is for.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "mediaforge",
	})
}
