package handlers

import (
	"net/http"
	"time"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/pkg/api/middleware"
)

// statsMaxAge bounds how stale a served statistics snapshot may be
// before a request triggers a refresh.
const statsMaxAge = 5 * time.Minute

// Statistics serves the aggregate service counters to admins. The
// snapshot is cached and refreshed by at most one request at a time;
// callers arriving mid-refresh get the previous snapshot, or a retry
// hint when none exists yet.
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())
	if !user.IsAdmin() {
		WriteError(w, r, apperr.ClientStatusf(http.StatusForbidden, "You are not allowed to view statistics."))
		return
	}

	if h.caches == nil {
		stats, err := h.store.Statistics(r.Context())
		if err != nil {
			WriteError(w, r, err)
			return
		}
		WriteSuccess(w, map[string]any{"stats": stats})
		return
	}

	snapshot, generate := h.caches.Stats(statsMaxAge)
	if generate {
		stats, err := h.store.Statistics(r.Context())
		if err != nil {
			h.caches.AbortStats()
			WriteError(w, r, err)
			return
		}
		h.caches.SetStats(stats)
		WriteSuccess(w, map[string]any{"stats": stats})
		return
	}

	if snapshot == nil {
		WriteError(w, r, apperr.ClientStatusf(http.StatusServiceUnavailable,
			"Statistics are still being generated. Try again later."))
		return
	}
	WriteSuccess(w, map[string]any{"stats": snapshot})
}
