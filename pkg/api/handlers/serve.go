package handlers

import (
	"errors"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/pkg/store/models"
)

// ServeFile streams an uploaded file from local storage. The
// Content-Disposition header carries the original client file name and
// is cached per stored name, so repeat reads skip the database.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if h.caches != nil {
		if v, ok, _ := h.caches.Disposition.Get(name); ok {
			h.serveUpload(w, r, name, "", v)
			return
		}
	}

	file, err := h.store.GetFileByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, models.ErrFileNotFound) {
			WriteError(w, r, apperr.ClientStatusf(http.StatusNotFound, "File not found."))
			return
		}
		WriteError(w, r, err)
		return
	}

	disposition := mime.FormatMediaType("inline", map[string]string{"filename": file.Original})
	if h.caches != nil {
		h.caches.Disposition.Set(name, disposition)
	}
	h.serveUpload(w, r, name, file.Type, disposition)
}

func (h *Handler) serveUpload(w http.ResponseWriter, r *http.Request, name, contentType, disposition string) {
	path, err := h.paths.UploadPath(name)
	if err != nil {
		WriteError(w, r, apperr.ClientStatusf(http.StatusNotFound, "File not found."))
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	http.ServeFile(w, r, path)
}
