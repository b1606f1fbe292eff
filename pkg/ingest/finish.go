package ingest

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/pkg/chunks"
	"github.com/perdedora/safe/pkg/store/models"
)

// ChunkSpec describes one finished chunked upload the client wants
// assembled. Size -1 (or absent in JSON, decoded as nil) skips the
// byte-exact size assertion.
type ChunkSpec struct {
	UUID       string   `json:"uuid"`
	Original   string   `json:"original"`
	FileLength int      `json:"filelength"`
	Size       *int64   `json:"size"`
	Age        *float64 `json:"age"`
	AlbumID    *uint    `json:"albumid"`
	Type       string   `json:"type"`
}

// FinishChunks assembles completed chunk sessions into final uploads and
// runs them through the common post-stream path: scanner gate, strip
// tags, dedup commit. Sessions are consumed even when a later spec in
// the batch fails; staged bytes for the batch are then removed.
func (e *Engine) FinishChunks(ctx context.Context, specs []ChunkSpec, up Uploader) ([]Stored, error) {
	if len(specs) == 0 {
		return nil, apperr.Clientf("no files to finish")
	}
	if len(specs) > e.cfg.MaxFilesPerUpload {
		return nil, apperr.Clientf("too many files (max %d)", e.cfg.MaxFilesPerUpload)
	}

	var staged []*stagedFile
	ok := false
	defer func() {
		if !ok {
			for _, st := range staged {
				st.discard(e.paths)
			}
		}
	}()

	for _, spec := range specs {
		st, err := e.finishOne(ctx, spec, up)
		if err != nil {
			return nil, err
		}
		staged = append(staged, st)
	}

	if err := e.gate(ctx, staged, up); err != nil {
		return nil, err
	}
	if err := e.maybeStripTags(staged, up); err != nil {
		return nil, err
	}

	stored, err := e.commit(ctx, staged, up, "chunked")
	if err != nil {
		return nil, err
	}
	ok = true
	return stored, nil
}

// finishOne moves one chunk session's bytes to their final name.
func (e *Engine) finishOne(ctx context.Context, spec ChunkSpec, up Uploader) (*stagedFile, error) {
	if spec.UUID == "" {
		return nil, apperr.Clientf("missing chunk uuid")
	}
	// The uuid names a directory under the chunk root; only accept the
	// canonical form.
	if _, err := uuid.Parse(spec.UUID); err != nil {
		return nil, apperr.Clientf("invalid chunk uuid")
	}

	ext := models.ExtensionOf(spec.Original)
	if !e.cfg.Extensions.Allowed(ext) {
		e.chunker.Cleanup(chunks.SessionKey(up.IP, spec.UUID))
		return nil, apperr.Clientf("%s files are not permitted", ext)
	}

	length := e.cfg.IdentifierLength
	if spec.FileLength != 0 {
		length = e.nameLength(Uploader{NameLength: spec.FileLength})
	}
	identifier, release, err := e.idents.ReserveFile(ctx, length, ext)
	if err != nil {
		e.chunker.Cleanup(chunks.SessionKey(up.IP, spec.UUID))
		if err == models.ErrIdentifierExhausted {
			return nil, &apperr.ServerError{Message: "failed to allocate an unused identifier", Quiet: true, Err: err}
		}
		return nil, apperr.Serverf(err, "identifier allocation failed")
	}

	st := &stagedFile{
		identifier: identifier,
		name:       identifier + ext,
		original:   spec.Original,
		extension:  ext,
		mimeType:   spec.Type,
		release:    release,
		age:        spec.Age,
		albumID:    spec.AlbumID,
	}
	if st.mimeType == "" {
		st.mimeType = "application/octet-stream"
	}

	path, err := e.paths.UploadPath(st.name)
	if err != nil {
		release()
		return nil, apperr.Clientf("invalid file name")
	}
	st.path = path

	expected := int64(-1)
	if spec.Size != nil {
		expected = *spec.Size
	}

	res, err := e.chunker.Finalize(chunks.SessionKey(up.IP, spec.UUID), expected, path)
	if err != nil {
		release()
		switch {
		case errors.Is(err, models.ErrChunkSessionAbsent):
			return nil, apperr.ClientStatusf(http.StatusBadRequest, "no chunked upload in progress for uuid %s", spec.UUID)
		case errors.Is(err, models.ErrChunkConflict):
			return nil, apperr.ClientStatusf(http.StatusConflict, "chunked upload for uuid %s is still being written", spec.UUID)
		case errors.Is(err, models.ErrInvalidChunkCount), errors.Is(err, models.ErrChunkSizeMismatch):
			return nil, apperr.Clientf("%v", err)
		default:
			return nil, apperr.Serverf(err, "failed to assemble chunked upload")
		}
	}

	if res.Size > e.cfg.MaxSize {
		st.discard(e.paths)
		return nil, apperr.Clientf("file too large (limit %d bytes)", e.cfg.MaxSize)
	}
	if res.Size == 0 && e.cfg.FilterEmptyFile {
		st.discard(e.paths)
		return nil, apperr.Clientf("empty files are not permitted")
	}

	st.size = res.Size
	if e.cfg.Hashing {
		st.hashHex = res.Hash
	}
	return st, nil
}
