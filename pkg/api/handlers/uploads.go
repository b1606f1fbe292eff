package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/pkg/api/middleware"
	"github.com/perdedora/safe/pkg/ingest"
	"github.com/perdedora/safe/pkg/query"
	"github.com/perdedora/safe/pkg/store/models"
)

// fileEntry is one element of the upload response's files array.
type fileEntry struct {
	Name       string `json:"name"`
	URL        string `json:"url"`
	Original   string `json:"original,omitempty"`
	Type       string `json:"type,omitempty"`
	Size       int64  `json:"size"`
	Hash       string `json:"hash,omitempty"`
	ExpiryDate *int64 `json:"expirydate,omitempty"`
	Repeated   bool   `json:"repeated,omitempty"`
}

func (h *Handler) fileEntries(stored []ingest.Stored) []fileEntry {
	entries := make([]fileEntry, len(stored))
	for i, s := range stored {
		entries[i] = fileEntry{
			Name:       s.Name,
			URL:        h.cfg.Domain + "/" + s.Name,
			Original:   s.Original,
			Type:       s.Type,
			Size:       s.Size,
			Hash:       s.Hash,
			ExpiryDate: s.ExpiryDate,
			Repeated:   s.Repeated,
		}
	}
	return entries
}

// uploaderFrom assembles the request identity: the optional token user
// plus the per-upload headers.
func (h *Handler) uploaderFrom(r *http.Request) (ingest.Uploader, error) {
	user := middleware.UserFrom(r.Context())
	if h.cfg.Private && user == nil {
		return ingest.Uploader{}, &apperr.ClientError{
			Message: "Invalid token.",
			Status:  http.StatusForbidden,
			Code:    apperr.CodeInvalidToken,
		}
	}

	up := ingest.Uploader{
		User: user,
		IP:   middleware.ClientIP(r),
	}

	if v := chi.URLParam(r, "albumid"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return up, apperr.Clientf("invalid album id")
		}
		aid := uint(id)
		up.AlbumID = &aid
	} else if v := r.Header.Get("albumid"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return up, apperr.Clientf("invalid albumid header")
		}
		aid := uint(id)
		up.AlbumID = &aid
	}
	if up.AlbumID != nil && user == nil {
		return up, apperr.Clientf("only registered users may upload to albums")
	}

	if v := r.Header.Get("age"); v != "" {
		age, err := strconv.ParseFloat(v, 64)
		if err != nil || age < 0 {
			return up, apperr.Clientf("invalid age header")
		}
		up.Age = age
	}
	if v := r.Header.Get("filelength"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return up, apperr.Clientf("invalid filelength header")
		}
		up.NameLength = n
	}
	if v := r.Header.Get("striptags"); v != "" {
		up.StripTags = v == "1" || v == "true"
	}
	return up, nil
}

// Upload handles both intake variants: multipart bodies carry the bytes
// directly, JSON bodies carry a list of remote URLs to fetch.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	up, err := h.uploaderFrom(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	var stored []ingest.Stored
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			URLs []string `json:"urls"`
		}
		if err := decodeJSONBody(r, &req); err != nil {
			WriteError(w, r, err)
			return
		}
		stored, err = h.engine.FetchURLs(r.Context(), req.URLs, up)
	} else {
		stored, err = h.engine.ProcessMultipart(r.Context(), r, up)
	}
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteSuccess(w, map[string]any{"files": h.fileEntries(stored)})
}

// FinishChunks assembles completed chunked uploads.
func (h *Handler) FinishChunks(w http.ResponseWriter, r *http.Request) {
	up, err := h.uploaderFrom(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	var req struct {
		Files []ingest.ChunkSpec `json:"files"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	stored, err := h.engine.FinishChunks(r.Context(), req.Files, up)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, map[string]any{"files": h.fileEntries(stored)})
}

// Delete removes a single upload by id.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req struct {
		ID uint `json:"id"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if req.ID == 0 {
		WriteError(w, r, apperr.Clientf("no file specified"))
		return
	}

	failed, err := h.deleter.DeleteByField(r.Context(), "id", []any{req.ID}, user)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, map[string]any{"failed": failed})
}

// BulkDelete removes uploads by id or name. Partial failures come back
// in the failed array with HTTP 200.
func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req struct {
		Field  string `json:"field"`
		Values []any  `json:"values"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	failed, err := h.deleter.DeleteByField(r.Context(), req.Field, req.Values, user)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, map[string]any{"failed": failed})
}

// ListUploads serves the paginated uploads list, optionally scoped to
// one album, filtered by the compiled search expression.
func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	page := 0
	if v := chi.URLParam(r, "page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			WriteError(w, r, apperr.Clientf("invalid page"))
			return
		}
		page = n
	}

	all := r.Header.Get("all") == "1" || r.Header.Get("all") == "true"
	if all && !user.IsModerator() {
		WriteError(w, r, apperr.ClientStatusf(http.StatusForbidden, "You are not allowed to list all uploads."))
		return
	}

	minOffset := 0
	if v := r.Header.Get("minoffset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			minOffset = n
		}
	}

	opt := query.Options{
		Moderator: user.IsModerator(),
		All:       all,
		MinOffset: minOffset,
		ResolveUser: func(username string) (uint, bool) {
			u, err := h.store.GetUser(r.Context(), username)
			if err != nil {
				return 0, false
			}
			return u.ID, true
		},
	}
	if !all {
		id := user.ID
		opt.UserID = &id
	}

	if v := chi.URLParam(r, "albumid"); v != "" {
		albumID, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			WriteError(w, r, apperr.Clientf("invalid album id"))
			return
		}
		aid := uint(albumID)
		if !user.IsModerator() {
			if _, err := h.store.GetUserAlbum(r.Context(), aid, user.ID); err != nil {
				WriteError(w, r, apperr.ClientStatusf(http.StatusNotFound, "Album not found."))
				return
			}
		}
		opt.AlbumID = &aid
	}

	compiled, err := query.Compile(r.Header.Get("filters"), opt)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	count, err := h.store.CountFiles(r.Context(), compiled.Where, compiled.Args)
	if err != nil {
		WriteError(w, r, apperr.Serverf(err, "failed to count uploads"))
		return
	}

	offset := query.PageOffset(page, h.cfg.PageSize, count)
	files, err := h.store.ListFiles(r.Context(), compiled.Where, compiled.Args, compiled.Order, h.cfg.PageSize, offset)
	if err != nil {
		WriteError(w, r, apperr.Serverf(err, "failed to list uploads"))
		return
	}

	WriteSuccess(w, map[string]any{
		"files": files,
		"count": count,
	})
}

// GetFile returns one upload record by its public name. Non-moderators
// only see their own uploads.
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())
	name := chi.URLParam(r, "identifier")

	file, err := h.store.GetFileByName(r.Context(), name)
	if err != nil {
		if err == models.ErrFileNotFound {
			WriteError(w, r, apperr.ClientStatusf(http.StatusNotFound, "File not found."))
			return
		}
		WriteError(w, r, apperr.Serverf(err, "failed to look up file"))
		return
	}
	if !user.IsModerator() && (file.UserID == nil || *file.UserID != user.ID) {
		WriteError(w, r, apperr.ClientStatusf(http.StatusNotFound, "File not found."))
		return
	}

	WriteSuccess(w, map[string]any{"file": file})
}
