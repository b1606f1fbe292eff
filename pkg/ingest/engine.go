// Package ingest drives uploads end to end: stream intake from multipart
// bodies or remote URLs, single-pass hashing and scanning, chunked-upload
// finalization, metadata stripping, and the deduplicating database commit.
package ingest

import (
	"context"
	"fmt"
	"hash"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/chunks"
	"github.com/perdedora/safe/pkg/ident"
	"github.com/perdedora/safe/pkg/metrics"
	"github.com/perdedora/safe/pkg/paths"
	"github.com/perdedora/safe/pkg/retention"
	"github.com/perdedora/safe/pkg/scanner"
	"github.com/perdedora/safe/pkg/store"
	"github.com/perdedora/safe/pkg/store/models"
)

// Config controls the upload pipeline.
type Config struct {
	// MaxSize is the per-file byte cap. Excluded from config decoding:
	// UploadsConfig.MaxSize owns the `max_size` key and feeds this via
	// IngestConfig().
	MaxSize int64 `mapstructure:"-" yaml:"-"`

	// MaxFilesPerUpload bounds file parts per request.
	MaxFilesPerUpload int `mapstructure:"max_files_per_upload" yaml:"max_files_per_upload"`

	// MaxFieldsPerUpload bounds auxiliary non-file parts per request.
	MaxFieldsPerUpload int `mapstructure:"max_fields_per_upload" yaml:"max_fields_per_upload"`

	// FilterEmptyFile rejects zero-byte uploads.
	FilterEmptyFile bool `mapstructure:"filter_empty_file" yaml:"filter_empty_file"`

	// Hashing enables BLAKE3 content hashing (and thereby dedup).
	Hashing bool `mapstructure:"hashing" yaml:"hashing"`

	// AllowStripTags permits clients to request metadata stripping.
	AllowStripTags bool `mapstructure:"allow_strip_tags" yaml:"allow_strip_tags"`

	// Identifier length: default plus the clamp bounds clients may
	// request via the filelength header.
	IdentifierLength    int `mapstructure:"identifier_length" yaml:"identifier_length"`
	IdentifierMinLength int `mapstructure:"identifier_min_length" yaml:"identifier_min_length"`
	IdentifierMaxLength int `mapstructure:"identifier_max_length" yaml:"identifier_max_length"`

	// Extensions filters what may be uploaded.
	Extensions ExtFilter `mapstructure:"extensions" yaml:"extensions"`

	// URL configures remote fetch intake.
	URL URLConfig `mapstructure:"url" yaml:"url"`
}

func (c *Config) applyDefaults() {
	if c.MaxFilesPerUpload <= 0 {
		c.MaxFilesPerUpload = 20
	}
	if c.MaxFieldsPerUpload <= 0 {
		c.MaxFieldsPerUpload = 6
	}
	if c.IdentifierLength <= 0 {
		c.IdentifierLength = 8
	}
	if c.IdentifierMinLength <= 0 {
		c.IdentifierMinLength = 4
	}
	if c.IdentifierMaxLength <= 0 {
		c.IdentifierMaxLength = 32
	}
	c.URL.applyDefaults()
}

// Uploader is the request identity an upload runs under.
type Uploader struct {
	User       *models.User // nil for anonymous uploads
	IP         string
	AlbumID    *uint
	Age        float64 // requested retention hours, 0 = unset
	NameLength int     // requested identifier length, 0 = default
	StripTags  bool
}

func (u *Uploader) userID() *uint {
	if u.User == nil {
		return nil
	}
	id := u.User.ID
	return &id
}

func (u *Uploader) rank() int {
	if u.User == nil {
		return models.RankUser
	}
	return u.User.Permission
}

// Stored is one entry of the upload response.
type Stored struct {
	Name       string `json:"name"`
	Original   string `json:"original,omitempty"`
	Type       string `json:"type,omitempty"`
	Size       int64  `json:"size"`
	Hash       string `json:"hash,omitempty"`
	ExpiryDate *int64 `json:"expirydate,omitempty"`
	Repeated   bool   `json:"repeated,omitempty"`
}

// Thumbnailer schedules thumbnail jobs for committed uploads.
type Thumbnailer interface {
	Eligible(extension string) bool
	Schedule(name string)
}

// Invalidator evicts derived caches after commits and deletions.
type Invalidator interface {
	InvalidateAlbums(ids []uint)
	InvalidateStats()
}

// ScanPolicy is the bypass decision; size is 0 when unknown (passthrough).
type ScanPolicy interface {
	ShouldScan(rank int, extension string, size int64) bool
}

// Engine drives uploads from intake to committed rows.
type Engine struct {
	cfg       Config
	files     store.FileStore
	idents    *ident.Allocator
	paths     *paths.Paths
	chunker   *chunks.Coordinator
	retention *retention.Resolver

	// scan is nil when scanning is disabled.
	scan   scanner.Scanner
	policy ScanPolicy

	// optional collaborators
	thumbs Thumbnailer
	inval  Invalidator
	stats  *metrics.Metrics
}

// New creates an Engine. scan/policy, thumbs and inval may be nil.
func New(cfg Config, files store.FileStore, idents *ident.Allocator, p *paths.Paths,
	chunker *chunks.Coordinator, ret *retention.Resolver) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:       cfg,
		files:     files,
		idents:    idents,
		paths:     p,
		chunker:   chunker,
		retention: ret,
	}
}

// WithScanner attaches an AV scanner and its bypass policy.
func (e *Engine) WithScanner(s scanner.Scanner, policy ScanPolicy) *Engine {
	e.scan = s
	e.policy = policy
	return e
}

// WithThumbnailer attaches a thumbnail scheduler.
func (e *Engine) WithThumbnailer(t Thumbnailer) *Engine {
	e.thumbs = t
	return e
}

// WithInvalidator attaches a cache invalidator.
func (e *Engine) WithInvalidator(i Invalidator) *Engine {
	e.inval = i
	return e
}

// WithMetrics attaches the pipeline collectors.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.stats = m
	return e
}

// stagedFile is a fully written but uncommitted upload.
type stagedFile struct {
	identifier string
	name       string // identifier + extension
	original   string
	extension  string
	mimeType   string
	size       int64
	hashHex    string
	path       string
	release    ident.Release

	// expiry override for chunked finalize; nil means use the request age.
	age *float64

	albumID *uint

	scan *scanner.Result // passthrough verdict, nil when not scanned inline
}

// discard removes the staged bytes and frees the identifier reservation.
func (st *stagedFile) discard(p *paths.Paths) {
	if st.path != "" {
		if err := os.Remove(st.path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove staged upload", "upload", st.name, "error", err)
		}
	}
	if st.release != nil {
		st.release()
	}
}

// ProcessMultipart consumes a multipart/form-data request body in arrival
// order. Auxiliary fields must precede their file parts: chunked-mode
// selection reads the uuid from fields already seen. Returns the commit
// results; for chunk appends the slice is empty and the real response
// comes from FinishChunks.
func (e *Engine) ProcessMultipart(ctx context.Context, r *http.Request, up Uploader) ([]Stored, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apperr.Clientf("invalid multipart request: %v", err)
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

	params := make(map[string]string)
	fields, fileCount, appended := 0, 0, 0

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Clientf("malformed multipart stream: %v", err)
		}

		if part.FileName() == "" {
			fields++
			if fields > e.cfg.MaxFieldsPerUpload {
				return nil, apperr.Clientf("too many fields (max %d)", e.cfg.MaxFieldsPerUpload)
			}
			if err := readField(part, params); err != nil {
				return nil, err
			}
			continue
		}

		fileCount++
		if fileCount > e.cfg.MaxFilesPerUpload {
			return nil, apperr.Clientf("too many files (max %d)", e.cfg.MaxFilesPerUpload)
		}

		if id := params["uuid"]; id != "" {
			if _, err := uuid.Parse(id); err != nil {
				return nil, apperr.Clientf("invalid chunk uuid")
			}
			// Chunk mode: append to the session, no staging here.
			key := chunks.SessionKey(up.IP, id)
			if _, err := e.chunker.Append(key, io.LimitReader(part, e.cfg.MaxSize+1)); err != nil {
				return nil, chunkAppendError(err)
			}
			appended++
			continue
		}

		st, err := e.stageStream(ctx, part, part.FileName(), contentTypeOf(part), up)
		if err != nil {
			return nil, err
		}
		staged = append(staged, st)
	}

	if appended > 0 && len(staged) == 0 {
		ok = true
		return []Stored{}, nil
	}
	if len(staged) == 0 {
		return nil, apperr.Clientf("no files to upload")
	}

	if err := e.gate(ctx, staged, up); err != nil {
		return nil, err
	}
	if err := e.maybeStripTags(staged, up); err != nil {
		return nil, err
	}

	stored, err := e.commit(ctx, staged, up, "multipart")
	if err != nil {
		return nil, err
	}
	ok = true
	return stored, nil
}

// maxFieldValue bounds auxiliary form field values.
const maxFieldValue = 4096

// readField records one auxiliary field, stripping the dropzone "dz"
// prefix clients send.
func readField(part *multipart.Part, params map[string]string) error {
	buf, err := io.ReadAll(io.LimitReader(part, maxFieldValue+1))
	if err != nil {
		return apperr.Clientf("failed to read form field: %v", err)
	}
	if len(buf) > maxFieldValue {
		return apperr.Clientf("form field too large")
	}
	key := strings.ToLower(part.FormName())
	key = strings.TrimPrefix(key, "dz")
	params[key] = string(buf)
	return nil
}

func contentTypeOf(part *multipart.Part) string {
	ct := part.Header.Get("Content-Type")
	if ct == "" {
		return "application/octet-stream"
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

func chunkAppendError(err error) error {
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "exceeds"):
		return apperr.Clientf("%v", err)
	default:
		if err == models.ErrChunkConflict {
			return apperr.ClientStatusf(http.StatusConflict, "previous chunk for this upload is still being written")
		}
		return apperr.Serverf(err, "chunk write failed")
	}
}

// nameLength resolves the identifier length for a request, clamping the
// client's filelength header to the configured bounds.
func (e *Engine) nameLength(up Uploader) int {
	n := up.NameLength
	if n == 0 {
		return e.cfg.IdentifierLength
	}
	if n < e.cfg.IdentifierMinLength {
		n = e.cfg.IdentifierMinLength
	}
	if n > e.cfg.IdentifierMaxLength {
		n = e.cfg.IdentifierMaxLength
	}
	return n
}

// stageStream writes one upload stream to disk in a single pass, hashing
// as a side tap and scanning inline when the policy asks for it. The
// writer and the scanner each contribute one unit to a weighted join; the
// call returns when both have settled.
func (e *Engine) stageStream(ctx context.Context, r io.Reader, originalName, mimeType string, up Uploader) (*stagedFile, error) {
	ext := models.ExtensionOf(originalName)
	if !e.cfg.Extensions.Allowed(ext) {
		return nil, apperr.Clientf("%s files are not permitted", ext)
	}

	identifier, release, err := e.idents.ReserveFile(ctx, e.nameLength(up), ext)
	if err != nil {
		if err == models.ErrIdentifierExhausted {
			return nil, &apperr.ServerError{Message: "failed to allocate an unused identifier", Quiet: true, Err: err}
		}
		return nil, apperr.Serverf(err, "identifier allocation failed")
	}

	st := &stagedFile{
		identifier: identifier,
		name:       identifier + ext,
		original:   originalName,
		extension:  ext,
		mimeType:   mimeType,
		release:    release,
	}

	path, err := e.paths.UploadPath(st.name)
	if err != nil {
		release()
		return nil, apperr.Clientf("invalid file name")
	}
	st.path = path

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		release()
		return nil, apperr.Serverf(err, "failed to open upload for writing")
	}

	inlineScan := e.scan != nil && e.policy != nil && e.policy.ShouldScan(up.rank(), ext, 0)

	target := 1
	if inlineScan {
		target = 2
	}
	join := NewJoin(target)

	var hasher hash.Hash
	if e.cfg.Hashing {
		hasher = blake3.New(32, nil)
	}

	var pw *io.PipeWriter
	if inlineScan {
		var pr *io.PipeReader
		pr, pw = io.Pipe()
		go func() {
			res, err := e.scan.ScanStream(ctx, pr)
			if err != nil {
				_ = pr.CloseWithError(err)
				join.Fail(&apperr.ServerError{Message: "an error occurred while scanning the upload", Quiet: true, Err: err})
				return
			}
			st.scan = &res
			join.Arrive()
		}()
	}

	// reader -> [hasher side tap] -> [scanner passthrough] -> writer
	var w io.Writer = file
	if hasher != nil {
		w = io.MultiWriter(w, hasher)
	}
	if pw != nil {
		w = io.MultiWriter(w, pw)
	}

	written, copyErr := io.Copy(w, io.LimitReader(r, e.cfg.MaxSize+1))
	st.size = written

	if copyErr != nil {
		_ = file.Close()
		if pw != nil {
			_ = pw.CloseWithError(copyErr)
		}
		join.Fail(apperr.Serverf(copyErr, "failed to write upload"))
		_ = join.Wait(ctx)
		st.discard(e.paths)
		return nil, apperr.Serverf(copyErr, "failed to write upload")
	}
	if pw != nil {
		_ = pw.Close()
	}
	if err := file.Close(); err != nil {
		join.Fail(apperr.Serverf(err, "failed to flush upload"))
		_ = join.Wait(ctx)
		st.discard(e.paths)
		return nil, apperr.Serverf(err, "failed to flush upload")
	}
	join.Arrive()

	if err := join.Wait(ctx); err != nil {
		st.discard(e.paths)
		return nil, err
	}

	if written > e.cfg.MaxSize {
		st.discard(e.paths)
		return nil, apperr.Clientf("file too large (limit %d bytes)", e.cfg.MaxSize)
	}
	if written == 0 && e.cfg.FilterEmptyFile {
		st.discard(e.paths)
		return nil, apperr.Clientf("empty files are not permitted")
	}
	if hasher != nil {
		st.hashHex = fmt.Sprintf("%x", hasher.Sum(nil))
	}
	return st, nil
}

// gate enforces the scanner verdicts for a batch: inline verdicts where
// collected, post-hoc path scans for the rest. On any infection or
// unscannable file all staged bytes are removed.
func (e *Engine) gate(ctx context.Context, staged []*stagedFile, up Uploader) error {
	if e.scan == nil {
		return nil
	}

	results := make([]scanner.Result, 0, len(staged))
	for _, st := range staged {
		if st.scan != nil {
			results = append(results, *st.scan)
			continue
		}
		if e.policy != nil && !e.policy.ShouldScan(up.rank(), st.extension, st.size) {
			continue
		}
		res, err := e.scan.ScanPath(ctx, st.path)
		if err != nil {
			for _, s := range staged {
				s.discard(e.paths)
			}
			return &apperr.ServerError{Message: "an error occurred while scanning the upload", Quiet: true, Err: err}
		}
		results = append(results, res)
	}

	if err := scanner.Aggregate(results); err != nil {
		for _, st := range staged {
			st.discard(e.paths)
		}
		e.stats.RecordScanReject()
		return apperr.Clientf("%v", err)
	}
	return nil
}

// maybeStripTags rewrites staged files in place when the client asked for
// metadata stripping and the config allows it. A rewrite failure rejects
// the whole batch.
func (e *Engine) maybeStripTags(staged []*stagedFile, up Uploader) error {
	if !up.StripTags || !e.cfg.AllowStripTags {
		return nil
	}
	for _, st := range staged {
		if err := stripTags(st.path, st.extension); err != nil {
			for _, s := range staged {
				s.discard(e.paths)
			}
			return apperr.Serverf(err, "failed to strip tags")
		}
		// Rewriting changes size and content hash.
		info, err := os.Stat(st.path)
		if err != nil {
			for _, s := range staged {
				s.discard(e.paths)
			}
			return apperr.Serverf(err, "failed to stat stripped upload")
		}
		st.size = info.Size()
		if e.cfg.Hashing {
			h, err := hashFile(st.path)
			if err != nil {
				for _, s := range staged {
					s.discard(e.paths)
				}
				return apperr.Serverf(err, "failed to rehash stripped upload")
			}
			st.hashHex = h
		}
	}
	return nil
}

// resolveAge maps a requested retention age to an expiry timestamp.
func (e *Engine) resolveAge(st *stagedFile, up Uploader, now int64) (*int64, error) {
	if e.retention == nil || !e.retention.Enabled() {
		return nil, nil
	}
	age := up.Age
	if st.age != nil {
		age = *st.age
	}
	if age == 0 {
		def, ok := e.retention.DefaultFor(up.rank())
		if !ok {
			return nil, nil
		}
		age = def
	}
	if !e.retention.Allowed(up.rank(), age) {
		return nil, apperr.Clientf("invalid retention period: %v hours", age)
	}
	if age == 0 {
		return nil, nil
	}
	expiry := now + int64(age*3600)
	return &expiry, nil
}

// commit persists the batch through the deduplicating writer, unlinks
// duplicate staged bytes, schedules thumbnails and invalidates caches.
func (e *Engine) commit(ctx context.Context, staged []*stagedFile, up Uploader, source string) ([]Stored, error) {
	now := time.Now().Unix()

	rows := make([]*models.File, len(staged))
	for i, st := range staged {
		expiry, err := e.resolveAge(st, up, now)
		if err != nil {
			for _, s := range staged {
				s.discard(e.paths)
			}
			return nil, err
		}

		albumID := st.albumID
		if albumID == nil {
			albumID = up.AlbumID
		}

		row := &models.File{
			Name:       st.name,
			Original:   st.original,
			Type:       st.mimeType,
			Size:       st.size,
			Hash:       st.hashHex,
			UserID:     up.userID(),
			AlbumID:    albumID,
			ExpiryDate: expiry,
		}
		if up.IP != "" {
			ip := up.IP
			row.IP = &ip
		}
		rows[i] = row
	}

	results, touched, err := e.files.CommitFiles(ctx, rows)
	if err != nil {
		for _, st := range staged {
			st.discard(e.paths)
		}
		return nil, apperr.Serverf(err, "failed to persist upload")
	}

	stored := make([]Stored, len(results))
	for i, res := range results {
		st := staged[i]
		if res.Repeated {
			// The bytes already exist under the older name.
			st.discard(e.paths)
		} else {
			st.release()
			if e.thumbs != nil && e.thumbs.Eligible(res.File.Extension()) {
				e.thumbs.Schedule(res.File.Name)
			}
		}
		e.stats.RecordUpload(source, res.File.Size, res.Repeated)
		stored[i] = Stored{
			Name:       res.File.Name,
			Original:   res.File.Original,
			Type:       res.File.Type,
			Size:       res.File.Size,
			Hash:       res.File.Hash,
			ExpiryDate: res.File.ExpiryDate,
			Repeated:   res.Repeated,
		}
	}

	if e.inval != nil {
		e.inval.InvalidateStats()
		if len(touched) > 0 {
			e.inval.InvalidateAlbums(touched)
		}
	}

	logger.InfoCtx(ctx, "upload committed", "count", len(stored))
	return stored, nil
}

// hashFile computes the BLAKE3 digest of a file on disk.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
