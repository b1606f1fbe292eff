// Package cache holds the bounded in-memory caches the read path leans
// on: per-file Content-Disposition headers, rendered album pages, and
// the aggregate stats snapshot.
package cache

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/bluele/gcache"
)

// Eviction strategies for the render caches.
const (
	EvictLRU = "LAST_GET_TIME"
	EvictLFU = "GETS_COUNT"
)

// Config sizes the render caches.
type Config struct {
	// Size bounds the number of cached entries.
	Size int `mapstructure:"size" yaml:"size"`

	// Eviction picks the strategy: EvictLRU (default) or EvictLFU.
	Eviction string `mapstructure:"eviction" yaml:"eviction"`
}

func build(cfg Config) gcache.Cache {
	if cfg.Size <= 0 {
		cfg.Size = 1024
	}
	b := gcache.New(cfg.Size)
	if cfg.Eviction == EvictLFU {
		return b.LFU().Build()
	}
	return b.LRU().Build()
}

// hold is the stampede marker: a key carrying hold is reserved by the
// goroutine doing the database lookup, and readers treat it as a miss
// without starting a second lookup.
type hold struct{}

// RenderStore is a bounded string cache with a hold marker. The mutex
// covers the check-then-act in Hold and Release; gcache itself is safe
// for concurrent use but cannot make those pairs atomic.
type RenderStore struct {
	mu    sync.Mutex
	cache gcache.Cache
}

// NewRenderStore creates a RenderStore.
func NewRenderStore(cfg Config) *RenderStore {
	return &RenderStore{cache: build(cfg)}
}

// Get returns the cached value. held reports that another goroutine is
// already filling this key.
func (s *RenderStore) Get(key string) (value string, ok bool, held bool) {
	v, err := s.cache.Get(key)
	if err != nil {
		if errors.Is(err, gcache.KeyNotFoundError) {
			return "", false, false
		}
		return "", false, false
	}
	if _, isHold := v.(hold); isHold {
		return "", false, true
	}
	return v.(string), true, false
}

// Hold reserves key for the caller. Returns false when the key already
// holds a value or another caller's reservation.
func (s *RenderStore) Hold(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.cache.GetIFPresent(key); err == nil {
		return false
	}
	_ = s.cache.Set(key, hold{})
	return true
}

// Set stores the computed value, replacing any hold marker.
func (s *RenderStore) Set(key, value string) {
	_ = s.cache.Set(key, value)
}

// Release drops a hold marker without storing a value, so a failed
// lookup does not wedge the key.
func (s *RenderStore) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, err := s.cache.GetIFPresent(key); err == nil {
		if _, isHold := v.(hold); isHold {
			s.cache.Remove(key)
		}
	}
}

// Evict removes key outright.
func (s *RenderStore) Evict(key string) {
	s.cache.Remove(key)
}

// Len reports the live entry count.
func (s *RenderStore) Len() int {
	return s.cache.Len(true)
}

// Stores bundles the render caches under one invalidation surface.
type Stores struct {
	// Disposition caches Content-Disposition header values per file name.
	Disposition *RenderStore

	// Albums caches rendered public album pages per album id.
	Albums *RenderStore

	stats statsCache
}

// NewStores creates the cache bundle.
func NewStores(cfg Config) *Stores {
	return &Stores{
		Disposition: NewRenderStore(cfg),
		Albums:      NewRenderStore(cfg),
	}
}

// InvalidateFiles evicts the disposition entries for deleted names.
func (s *Stores) InvalidateFiles(names []string) {
	for _, name := range names {
		s.Disposition.Evict(name)
	}
}

// InvalidateAlbums evicts rendered pages for edited albums.
func (s *Stores) InvalidateAlbums(ids []uint) {
	for _, id := range ids {
		s.Albums.Evict(albumKey(id))
	}
}

// AlbumRender reads the cached render for an album id.
func (s *Stores) AlbumRender(id uint) (string, bool, bool) {
	return s.Albums.Get(albumKey(id))
}

// SetAlbumRender stores a rendered album page.
func (s *Stores) SetAlbumRender(id uint, value string) {
	s.Albums.Set(albumKey(id), value)
}

// HoldAlbumRender reserves an album's render slot for the caller.
func (s *Stores) HoldAlbumRender(id uint) bool {
	return s.Albums.Hold(albumKey(id))
}

// ReleaseAlbumRender drops a render reservation after a failed build.
func (s *Stores) ReleaseAlbumRender(id uint) {
	s.Albums.Release(albumKey(id))
}

func albumKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// statsCache is the single-flight snapshot of aggregate service stats.
type statsCache struct {
	mu          sync.Mutex
	cache       any
	generating  bool
	generatedOn time.Time
}

// Stats returns the cached snapshot and whether a regeneration should
// start: the caller that receives generate=true owns the refresh and
// must finish it with SetStats or AbortStats.
func (s *Stores) Stats(maxAge time.Duration) (snapshot any, generate bool) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	fresh := s.stats.cache != nil && time.Since(s.stats.generatedOn) < maxAge
	if fresh || s.stats.generating {
		return s.stats.cache, false
	}
	s.stats.generating = true
	return s.stats.cache, true
}

// SetStats publishes a fresh snapshot and releases the generating gate.
func (s *Stores) SetStats(snapshot any) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.stats.cache = snapshot
	s.stats.generatedOn = time.Now()
	s.stats.generating = false
}

// AbortStats releases the generating gate after a failed refresh.
func (s *Stores) AbortStats() {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.stats.generating = false
}

// InvalidateStats drops the snapshot so the next read regenerates.
func (s *Stores) InvalidateStats() {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()
	s.stats.cache = nil
	s.stats.generatedOn = time.Time{}
}
