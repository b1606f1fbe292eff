package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/api/middleware"
	"github.com/perdedora/safe/pkg/store/models"
)

const (
	albumNameMaxLength = 70
	albumDescMaxLength = 4000

	// albumIdentifierLength matches the public identifier length of the
	// album share URLs.
	albumIdentifierLength = 8
)

// ListAlbums returns the caller's albums.
func (h *Handler) ListAlbums(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	albums, err := h.store.ListUserAlbums(r.Context(), user.ID)
	if err != nil {
		WriteError(w, r, apperr.Serverf(err, "failed to list albums"))
		return
	}
	WriteSuccess(w, map[string]any{
		"albums": albums,
		"count":  len(albums),
	})
}

// CreateAlbum creates an album with a fresh public identifier.
func (h *Handler) CreateAlbum(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Download    *bool  `json:"download"`
		Public      *bool  `json:"public"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > albumNameMaxLength {
		WriteError(w, r, apperr.Clientf("Album name must be 1 to %d characters long.", albumNameMaxLength))
		return
	}
	if len(req.Description) > albumDescMaxLength {
		WriteError(w, r, apperr.Clientf("Album description is too long."))
		return
	}

	identifier, release, err := h.idents.ReserveAlbum(r.Context(), albumIdentifierLength)
	if err != nil {
		WriteError(w, r, apperr.Serverf(err, "failed to allocate an album identifier"))
		return
	}
	defer release()

	album := &models.Album{
		Identifier:  identifier,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		UserID:      user.ID,
		Enabled:     true,
		Download:    true,
		Public:      true,
	}
	if req.Download != nil {
		album.Download = *req.Download
	}
	if req.Public != nil {
		album.Public = *req.Public
	}

	if err := h.store.CreateAlbum(r.Context(), album); err != nil {
		if err == models.ErrDuplicateAlbum {
			WriteError(w, r, apperr.Clientf("There is already an album with that name."))
			return
		}
		WriteError(w, r, apperr.Serverf(err, "failed to create album"))
		return
	}

	logger.InfoCtx(r.Context(), "album created", "album", album.Identifier, "user", user.Username)
	WriteSuccess(w, map[string]any{"id": album.ID})
}

// EditAlbum updates an album's name, description and visibility flags.
func (h *Handler) EditAlbum(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req struct {
		ID          uint    `json:"id"`
		Name        *string `json:"name"`
		Description *string `json:"description"`
		Download    *bool   `json:"download"`
		Public      *bool   `json:"public"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	album, err := h.loadOwnAlbum(r, req.ID, user)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || len(name) > albumNameMaxLength {
			WriteError(w, r, apperr.Clientf("Album name must be 1 to %d characters long.", albumNameMaxLength))
			return
		}
		album.Name = name
	}
	if req.Description != nil {
		if len(*req.Description) > albumDescMaxLength {
			WriteError(w, r, apperr.Clientf("Album description is too long."))
			return
		}
		album.Description = strings.TrimSpace(*req.Description)
	}
	if req.Download != nil {
		album.Download = *req.Download
	}
	if req.Public != nil {
		album.Public = *req.Public
	}

	if err := h.saveAlbum(r, album); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, nil)
}

// RenameAlbum changes only the album name.
func (h *Handler) RenameAlbum(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req struct {
		ID   uint   `json:"id"`
		Name string `json:"name"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || len(name) > albumNameMaxLength {
		WriteError(w, r, apperr.Clientf("Album name must be 1 to %d characters long.", albumNameMaxLength))
		return
	}

	album, err := h.loadOwnAlbum(r, req.ID, user)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	album.Name = name

	if err := h.saveAlbum(r, album); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteSuccess(w, nil)
}

// DisableAlbum soft-deletes an album: it disappears from listings and
// its share link stops resolving, but the rows and files stay.
func (h *Handler) DisableAlbum(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req struct {
		ID uint `json:"id"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	album, err := h.loadOwnAlbum(r, req.ID, user)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if err := h.store.DisableAlbum(r.Context(), album.ID, user.ID); err != nil {
		WriteError(w, r, apperr.Serverf(err, "failed to disable album"))
		return
	}
	h.dropAlbumArtifacts(album)
	WriteSuccess(w, nil)
}

// DeleteAlbum removes the album row. With purge set, the album's files
// are deleted as well; deletion failures come back in failed.
func (h *Handler) DeleteAlbum(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req struct {
		ID    uint `json:"id"`
		Purge bool `json:"purge"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	album, err := h.loadOwnAlbum(r, req.ID, user)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	var failed []any
	if req.Purge {
		files, err := h.store.AlbumFiles(r.Context(), album.ID)
		if err != nil {
			WriteError(w, r, apperr.Serverf(err, "failed to list album files"))
			return
		}
		if len(files) > 0 {
			ids := make([]any, len(files))
			for i, f := range files {
				ids[i] = f.ID
			}
			failed, err = h.deleter.DeleteByField(r.Context(), "id", ids, user)
			if err != nil {
				WriteError(w, r, err)
				return
			}
		}
	}

	if err := h.store.DeleteAlbum(r.Context(), album.ID, user.ID); err != nil {
		WriteError(w, r, apperr.Serverf(err, "failed to delete album"))
		return
	}
	h.dropAlbumArtifacts(album)

	logger.InfoCtx(r.Context(), "album deleted", "album", album.Identifier, "user", user.Username)
	WriteSuccess(w, map[string]any{"failed": failed})
}

// AddFilesToAlbum moves owned files into an album (or out of all albums
// when albumid is 0).
func (h *Handler) AddFilesToAlbum(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFrom(r.Context())

	var req struct {
		AlbumID uint   `json:"albumid"`
		IDs     []uint `json:"ids"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	if len(req.IDs) == 0 {
		WriteError(w, r, apperr.Clientf("no files specified"))
		return
	}

	if req.AlbumID != 0 {
		if _, err := h.loadOwnAlbum(r, req.AlbumID, user); err != nil {
			WriteError(w, r, err)
			return
		}
	}

	moved, err := h.store.AddFilesToAlbum(r.Context(), req.AlbumID, req.IDs, user.ID)
	if err != nil {
		WriteError(w, r, apperr.Serverf(err, "failed to move files"))
		return
	}
	if h.caches != nil && req.AlbumID != 0 {
		h.caches.InvalidateAlbums([]uint{req.AlbumID})
	}
	WriteSuccess(w, map[string]any{"count": moved})
}

// GetAlbum serves a public album with its file list. No authentication;
// disabled or non-public albums are not found. Rendered pages are cached
// per album id and evicted when the album or its membership changes.
func (h *Handler) GetAlbum(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	album, err := h.store.GetAlbumByIdentifier(r.Context(), identifier)
	if err != nil {
		if err == models.ErrAlbumNotFound {
			WriteError(w, r, apperr.ClientStatusf(http.StatusNotFound, "Album not found."))
			return
		}
		WriteError(w, r, apperr.Serverf(err, "failed to look up album"))
		return
	}
	if !album.Public {
		WriteError(w, r, apperr.ClientStatusf(http.StatusNotFound, "Album not found."))
		return
	}

	held := false
	if h.caches != nil {
		if body, ok, _ := h.caches.AlbumRender(album.ID); ok {
			WriteRawJSON(w, http.StatusOK, body)
			return
		}
		held = h.caches.HoldAlbumRender(album.ID)
	}

	files, err := h.store.AlbumFiles(r.Context(), album.ID)
	if err != nil {
		if held {
			h.caches.ReleaseAlbumRender(album.ID)
		}
		WriteError(w, r, apperr.Serverf(err, "failed to list album files"))
		return
	}

	entries := make([]map[string]any, len(files))
	for i, f := range files {
		entries[i] = map[string]any{
			"name": f.Name,
			"url":  h.cfg.Domain + "/" + f.Name,
			"size": f.Size,
		}
	}

	body, err := json.Marshal(map[string]any{
		"success":     true,
		"title":       album.Name,
		"description": album.Description,
		"download":    album.Download,
		"count":       len(files),
		"files":       entries,
	})
	if err != nil {
		if held {
			h.caches.ReleaseAlbumRender(album.ID)
		}
		WriteError(w, r, apperr.Serverf(err, "failed to render album"))
		return
	}
	if held {
		h.caches.SetAlbumRender(album.ID, string(body))
	}
	WriteRawJSON(w, http.StatusOK, string(body))
}

// DownloadAlbum streams the album's ZIP archive, building it first when
// the cached one is stale.
func (h *Handler) DownloadAlbum(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	path, err := h.zipper.Archive(r.Context(), identifier)
	if err != nil {
		if err == models.ErrAlbumNotFound {
			WriteError(w, r, apperr.ClientStatusf(http.StatusNotFound, "Album not found."))
			return
		}
		WriteError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+identifier+`.zip"`)
	http.ServeFile(w, r, path)
}

// loadOwnAlbum loads an enabled album owned by user.
func (h *Handler) loadOwnAlbum(r *http.Request, id uint, user *models.User) (*models.Album, error) {
	if id == 0 {
		return nil, apperr.Clientf("no album specified")
	}
	album, err := h.store.GetUserAlbum(r.Context(), id, user.ID)
	if err != nil {
		if err == models.ErrAlbumNotFound {
			return nil, apperr.ClientStatusf(http.StatusNotFound, "Album not found.")
		}
		return nil, apperr.Serverf(err, "failed to look up album")
	}
	return album, nil
}

// saveAlbum persists album changes and evicts its cached render.
func (h *Handler) saveAlbum(r *http.Request, album *models.Album) error {
	if err := h.store.UpdateAlbum(r.Context(), album); err != nil {
		if err == models.ErrDuplicateAlbum {
			return apperr.Clientf("There is already an album with that name.")
		}
		return apperr.Serverf(err, "failed to update album")
	}
	if h.caches != nil {
		h.caches.InvalidateAlbums([]uint{album.ID})
	}
	return nil
}

// dropAlbumArtifacts removes the cached render and the on-disk ZIP.
func (h *Handler) dropAlbumArtifacts(album *models.Album) {
	if h.caches != nil {
		h.caches.InvalidateAlbums([]uint{album.ID})
	}
	if h.paths != nil {
		if err := h.paths.RemoveZip(album.Identifier); err != nil {
			logger.Warn("failed to remove album archive", "album", album.Identifier, "error", err)
		}
	}
}
