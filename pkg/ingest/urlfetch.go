package ingest

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/store/models"
)

// URLConfig controls remote URL intake.
type URLConfig struct {
	// Enabled turns the /api/upload URL variant on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MaxSize is the per-fetch byte cap; 0 falls back to the upload cap.
	MaxSize int64 `mapstructure:"max_size" yaml:"max_size"`

	// Timeout is the total fetch budget shared by the HEAD probe and the
	// GET transfer. Splitting it this way keeps the GET from idling past
	// upstream proxy socket limits.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Proxy, when set, rewrites each URL before fetching. The literal
	// "{url}" is replaced with the percent-encoded target.
	Proxy string `mapstructure:"proxy" yaml:"proxy"`

	// Extensions, when non-empty, replaces the main extension filter for
	// URL intake.
	Extensions ExtFilter `mapstructure:"extensions" yaml:"extensions"`

	// UserAgent overrides the request User-Agent header.
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`
}

func (c *URLConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
}

func (c *URLConfig) maxSize(fallback int64) int64 {
	if c.MaxSize > 0 {
		return c.MaxSize
	}
	return fallback
}

// urlExtFilter resolves which filter applies to URL intake.
func (e *Engine) urlExtFilter() *ExtFilter {
	f := &e.cfg.URL.Extensions
	if len(f.Whitelist) == 0 && len(f.Blacklist) == 0 {
		return &e.cfg.Extensions
	}
	return f
}

// FetchURLs downloads each URL into the upload pipeline and commits the
// batch through the common post-stream path. Any failed fetch rejects
// the whole batch and removes what was already staged.
func (e *Engine) FetchURLs(ctx context.Context, urls []string, up Uploader) ([]Stored, error) {
	if !e.cfg.URL.Enabled {
		return nil, apperr.ClientStatusf(http.StatusForbidden, "uploads by url are not enabled")
	}
	if len(urls) == 0 {
		return nil, apperr.Clientf("no urls to upload")
	}
	if len(urls) > e.cfg.MaxFilesPerUpload {
		return nil, apperr.Clientf("too many urls (max %d)", e.cfg.MaxFilesPerUpload)
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

	for _, raw := range urls {
		st, err := e.fetchOne(ctx, raw, up)
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

	stored, err := e.commit(ctx, staged, up, "url")
	if err != nil {
		return nil, err
	}
	ok = true
	return stored, nil
}

// fetchOne downloads a single URL to a provisional .tmp path, then
// renames it once the real extension is known. The HEAD probe and the
// GET transfer share one deadline.
func (e *Engine) fetchOne(ctx context.Context, raw string, up Uploader) (*stagedFile, error) {
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, apperr.Clientf("invalid url: %s", raw)
	}

	target := raw
	if e.cfg.URL.Proxy != "" {
		target = strings.ReplaceAll(e.cfg.URL.Proxy, "{url}", url.QueryEscape(raw))
	}

	maxSize := e.cfg.URL.maxSize(e.cfg.MaxSize)

	// One deadline covers both requests.
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.URL.Timeout)
	defer cancel()

	if length, err := e.probe(fetchCtx, target); err != nil {
		return nil, err
	} else if length > maxSize {
		return nil, apperr.Clientf("file too large (limit %d bytes)", maxSize)
	}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperr.Clientf("invalid url: %s", raw)
	}
	if e.cfg.URL.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.URL.UserAgent)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, apperr.Clientf("failed to fetch %s: %v", raw, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Clientf("failed to fetch %s: status %d", raw, resp.StatusCode)
	}

	ext := remoteExtension(resp.Header.Get("Content-Disposition"), parsed.Path)
	if !e.urlExtFilter().Allowed(ext) {
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
		original:   remoteName(resp.Header.Get("Content-Disposition"), parsed.Path, ext),
		extension:  ext,
		mimeType:   contentTypeHeader(resp.Header.Get("Content-Type")),
		release:    release,
	}

	final, err := e.paths.UploadPath(st.name)
	if err != nil {
		release()
		return nil, apperr.Clientf("invalid file name")
	}
	tmp := final + ".tmp"

	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		release()
		return nil, apperr.Serverf(err, "failed to open upload for writing")
	}

	var w io.Writer = file
	hasher := blake3.New(32, nil)
	if e.cfg.Hashing {
		w = io.MultiWriter(file, hasher)
	}

	written, copyErr := io.Copy(w, io.LimitReader(resp.Body, maxSize+1))
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		release()
		if copyErr == nil {
			copyErr = closeErr
		}
		return nil, apperr.Clientf("failed to fetch %s: %v", raw, copyErr)
	}
	if written > maxSize {
		_ = os.Remove(tmp)
		release()
		return nil, apperr.Clientf("file too large (limit %d bytes)", maxSize)
	}
	if written == 0 && e.cfg.FilterEmptyFile {
		_ = os.Remove(tmp)
		release()
		return nil, apperr.Clientf("empty files are not permitted")
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		release()
		return nil, apperr.Serverf(err, "failed to place fetched upload")
	}
	st.path = final
	st.size = written
	if e.cfg.Hashing {
		st.hashHex = fmt.Sprintf("%x", hasher.Sum(nil))
	}

	logger.DebugCtx(ctx, "fetched remote upload", "upload", st.name, "size", written)
	return st, nil
}

// probe issues the HEAD request and returns the advertised length, or -1
// when the origin does not advertise one. HEAD errors are not fatal on
// their own; some origins reject HEAD but serve GET.
func (e *Engine) probe(ctx context.Context, target string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return -1, apperr.Clientf("invalid url: %s", target)
	}
	if e.cfg.URL.UserAgent != "" {
		req.Header.Set("User-Agent", e.cfg.URL.UserAgent)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return -1, apperr.Clientf("fetch timed out")
		}
		return -1, nil
	}
	_ = resp.Body.Close()
	return resp.ContentLength, nil
}

// remoteExtension derives the extension from the Content-Disposition
// filename when present, else from the URL path.
func remoteExtension(disposition, urlPath string) string {
	if name := dispositionFilename(disposition); name != "" {
		if ext := models.ExtensionOf(name); ext != "" {
			return ext
		}
	}
	return models.ExtensionOf(path.Base(urlPath))
}

// remoteName derives the reported original name for a fetched URL.
func remoteName(disposition, urlPath, ext string) string {
	if name := dispositionFilename(disposition); name != "" {
		return name
	}
	if base := path.Base(urlPath); base != "." && base != "/" && base != "" {
		return base
	}
	return "file" + ext
}

func dispositionFilename(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func contentTypeHeader(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
