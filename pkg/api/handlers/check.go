package handlers

import (
	"net/http"

	"github.com/perdedora/safe/pkg/api/middleware"
	"github.com/perdedora/safe/pkg/store/models"
)

// Check reports the server capabilities clients configure themselves
// from. The retention fields reflect the caller's group when a valid
// token accompanies the request.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	extra := map[string]any{
		"private":              h.cfg.Private,
		"enableUserAccounts":   h.cfg.EnableUserAccounts,
		"maxSize":              h.cfg.MaxSize,
		"chunkSize":            h.cfg.ChunkSize,
		"fileIdentifierLength": h.cfg.FileIdentifierLength,
		"stripTags":            h.cfg.StripTags,
		"version":              h.cfg.Version,
	}

	if h.retention != nil && h.retention.Enabled() {
		rank := models.RankUser
		if user := middleware.UserFrom(r.Context()); user != nil {
			rank = user.Permission
		}
		extra["temporaryUploadAges"] = h.retention.PeriodsFor(rank)
		if def, ok := h.retention.DefaultFor(rank); ok {
			extra["defaultTemporaryUploadAge"] = def
		}
	}

	WriteSuccess(w, extra)
}
