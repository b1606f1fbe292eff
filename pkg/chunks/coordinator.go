// Package chunks coordinates multi-request ("chunked") uploads.
//
// Each logical file is identified by a client uuid namespaced with the
// client IP. All chunks for one uuid are appended to a single temporary
// object under uploads/chunks/<ip>_<uuid>/tmp, hashed as they arrive.
// Writes per uuid are strictly serialized: a chunk arriving while another
// is still being written is rejected rather than queued, which is the
// contract the reference clients expect. Idle sessions are reaped after a
// timeout.
package chunks

import (
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/paths"
	"github.com/perdedora/safe/pkg/store/models"
)

// DefaultTimeout reaps sessions with no chunk activity.
const DefaultTimeout = 30 * time.Minute

// Config controls session limits.
type Config struct {
	// Timeout is the idle reap interval per session.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// MaxChunks bounds the chunk count accepted before finalize.
	MaxChunks int `mapstructure:"max_chunks" yaml:"max_chunks"`

	// MaxSize bounds the total assembled size in bytes. 0 = unlimited.
	MaxSize int64 `mapstructure:"max_size" yaml:"max_size"`

	// Hashing enables the rolling BLAKE3 hasher.
	Hashing bool `mapstructure:"hashing" yaml:"hashing"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 1000
	}
}

// session is the per-uuid state. A session is owned by whichever request
// holds processing=true; the coordinator mutex only guards the map and
// the flag itself, never the byte writes.
type session struct {
	uuid    string // namespaced ip_uuid
	root    string
	tmpPath string
	chunks  int
	written int64
	writer  *os.File
	hasher  hash.Hash
	timer   *time.Timer

	processing bool
}

// Coordinator manages all live chunk sessions.
type Coordinator struct {
	cfg   Config
	paths *paths.Paths

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a Coordinator.
func New(cfg Config, p *paths.Paths) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		cfg:      cfg,
		paths:    p,
		sessions: make(map[string]*session),
	}
}

// SessionKey namespaces a client uuid with the client IP so two clients
// sharing a uuid cannot touch each other's sessions.
func SessionKey(clientIP, uuid string) string {
	return clientIP + "_" + uuid
}

// acquire returns the session for key with processing set, creating it on
// first use. ErrChunkConflict is returned when another request is mid-write.
func (c *Coordinator) acquire(key string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[key]
	if !ok {
		root, err := c.paths.ChunkDir(key)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create chunk directory: %w", err)
		}
		tmpPath := filepath.Join(root, "tmp")
		writer, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("failed to open chunk writer: %w", err)
		}
		s = &session{
			uuid:    key,
			root:    root,
			tmpPath: tmpPath,
			writer:  writer,
		}
		if c.cfg.Hashing {
			s.hasher = blake3.New(32, nil)
		}
		s.timer = time.AfterFunc(c.cfg.Timeout, func() { c.expire(key) })
		c.sessions[key] = s
	}

	if s.processing {
		return nil, models.ErrChunkConflict
	}
	s.processing = true
	s.timer.Stop()
	return s, nil
}

// settle clears the processing flag and restarts the idle timer.
func (c *Coordinator) settle(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.processing = false
	if c.sessions[s.uuid] == s {
		s.timer.Reset(c.cfg.Timeout)
	}
}

// Append writes one chunk from r to the session for key, creating the
// session on first use. Concurrent appends for the same key fail with
// models.ErrChunkConflict. Returns the total chunk count so far.
func (c *Coordinator) Append(key string, r io.Reader) (int, error) {
	s, err := c.acquire(key)
	if err != nil {
		return 0, err
	}
	defer c.settle(s)

	var w io.Writer = s.writer
	if s.hasher != nil {
		w = io.MultiWriter(s.writer, s.hasher)
	}
	n, err := io.Copy(w, r)
	s.written += n
	if err != nil {
		// A failed append poisons the temp object: byte order can no
		// longer be trusted, so the whole session is discarded.
		c.Cleanup(key)
		return 0, fmt.Errorf("chunk write failed: %w", err)
	}
	if c.cfg.MaxSize > 0 && s.written > c.cfg.MaxSize {
		c.Cleanup(key)
		return 0, fmt.Errorf("chunked upload exceeds %d bytes", c.cfg.MaxSize)
	}

	s.chunks++
	return s.chunks, nil
}

// FinalizeResult reports the assembled object.
type FinalizeResult struct {
	Size int64
	Hash string // lowercase hex BLAKE3, empty when hashing disabled
}

// Finalize closes the session for key and moves the assembled bytes to
// dest. expectedSize, when >= 0, must match the on-disk size exactly.
// The session requires at least 2 accepted chunks (a single-chunk upload
// belongs on the plain upload route) and at most MaxChunks.
func (c *Coordinator) Finalize(key string, expectedSize int64, dest string) (*FinalizeResult, error) {
	s, err := c.take(key)
	if err != nil {
		return nil, err
	}

	// The session is out of the map now; all error paths must remove the
	// directory.
	fail := func(err error) (*FinalizeResult, error) {
		_ = s.writer.Close()
		_ = os.RemoveAll(s.root)
		return nil, err
	}

	if s.chunks < 2 || s.chunks > c.cfg.MaxChunks {
		return fail(fmt.Errorf("%w: %d", models.ErrInvalidChunkCount, s.chunks))
	}
	if err := s.writer.Close(); err != nil {
		return fail(fmt.Errorf("failed to close chunk writer: %w", err))
	}

	info, err := os.Stat(s.tmpPath)
	if err != nil {
		return fail(fmt.Errorf("failed to stat assembled upload: %w", err))
	}
	size := info.Size()
	if expectedSize >= 0 && size != expectedSize {
		return fail(fmt.Errorf("%w: have %d, client reported %d",
			models.ErrChunkSizeMismatch, size, expectedSize))
	}
	if c.cfg.MaxSize > 0 && size > c.cfg.MaxSize {
		return fail(fmt.Errorf("chunked upload exceeds %d bytes", c.cfg.MaxSize))
	}

	if err := moveFile(s.tmpPath, dest); err != nil {
		return fail(fmt.Errorf("failed to move assembled upload: %w", err))
	}
	if err := os.RemoveAll(s.root); err != nil {
		logger.Warn("failed to remove chunk directory", "chunk_uuid", key, "error", err)
	}

	result := &FinalizeResult{Size: size}
	if s.hasher != nil {
		result.Hash = fmt.Sprintf("%x", s.hasher.Sum(nil))
	}
	return result, nil
}

// take removes the session from the map for finalize. It requires the
// session to be idle.
func (c *Coordinator) take(key string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[key]
	if !ok {
		return nil, models.ErrChunkSessionAbsent
	}
	if s.processing {
		return nil, models.ErrChunkConflict
	}
	s.timer.Stop()
	delete(c.sessions, key)
	return s, nil
}

// Cleanup destroys the session for key from any state: the writer is
// closed, the directory removed, the map entry dropped. Safe to call for
// unknown keys.
func (c *Coordinator) Cleanup(key string) {
	c.mu.Lock()
	s, ok := c.sessions[key]
	if ok {
		s.timer.Stop()
		delete(c.sessions, key)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	_ = s.writer.Close()
	if err := os.RemoveAll(s.root); err != nil {
		logger.Warn("failed to remove chunk directory", "chunk_uuid", key, "error", err)
	}
}

// expire is the idle-timer callback.
func (c *Coordinator) expire(key string) {
	c.mu.Lock()
	s, ok := c.sessions[key]
	// A chunk in flight rearms the timer itself; never reap mid-write.
	if ok && s.processing {
		c.mu.Unlock()
		return
	}
	if ok {
		delete(c.sessions, key)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	_ = s.writer.Close()
	_ = os.RemoveAll(s.root)
	logger.Info("chunk session expired", "chunk_uuid", key, "chunks", s.chunks)
}

// Chunks returns the accepted chunk count for key, 0 for unknown keys.
func (c *Coordinator) Chunks(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[key]; ok {
		return s.chunks
	}
	return 0
}

// Active returns the number of live sessions.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Shutdown destroys every live session.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.sessions))
	for k := range c.sessions {
		keys = append(keys, k)
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.Cleanup(k)
	}
}

// moveFile renames src to dest, falling back to copy-then-remove when the
// rename crosses filesystems.
func moveFile(src, dest string) error {
	err := os.Rename(src, dest)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return err
	}
	return os.Remove(src)
}
