// Package handlers implements the JSON API routes.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/perdedora/safe/internal/apperr"
	"github.com/perdedora/safe/internal/cache"
	"github.com/perdedora/safe/pkg/api/middleware"
	"github.com/perdedora/safe/pkg/cleanup"
	"github.com/perdedora/safe/pkg/ident"
	"github.com/perdedora/safe/pkg/ingest"
	"github.com/perdedora/safe/pkg/paths"
	"github.com/perdedora/safe/pkg/retention"
	"github.com/perdedora/safe/pkg/store"
	"github.com/perdedora/safe/pkg/zipper"
)

// maxBodySize bounds JSON request bodies. Uploads go through multipart
// and are capped separately.
const maxBodySize = 1 << 20

// Config is the handler-facing slice of the service configuration.
type Config struct {
	// Private requires a token for uploading.
	Private bool

	// EnableUserAccounts allows self-registration.
	EnableUserAccounts bool

	// Domain is the public base URL uploads are served under.
	Domain string

	// MaxSize is the advertised per-file cap in bytes.
	MaxSize int64

	// ChunkSize is the advertised chunk size hint for clients.
	ChunkSize int64

	// FileIdentifierLength is the advertised default identifier length.
	FileIdentifierLength int

	// StripTags advertises whether clients may request tag stripping.
	StripTags bool

	// PageSize is the page length of the list endpoints.
	PageSize int

	// Version is reported by /api/check.
	Version string
}

// Handler carries the route implementations and their collaborators.
type Handler struct {
	cfg       Config
	store     store.Store
	engine    *ingest.Engine
	deleter   *cleanup.Deleter
	zipper    *zipper.Zipper
	retention *retention.Resolver
	idents    *ident.Allocator
	paths     *paths.Paths
	caches    *cache.Stores
	limiter   *middleware.FailureLimiter
}

// New creates the Handler. zipper, caches and limiter may be nil.
func New(cfg Config, s store.Store, engine *ingest.Engine, deleter *cleanup.Deleter,
	z *zipper.Zipper, ret *retention.Resolver, idents *ident.Allocator,
	p *paths.Paths, caches *cache.Stores, limiter *middleware.FailureLimiter) *Handler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	return &Handler{
		cfg:       cfg,
		store:     s,
		engine:    engine,
		deleter:   deleter,
		zipper:    z,
		retention: ret,
		idents:    idents,
		paths:     p,
		caches:    caches,
		limiter:   limiter,
	}
}

// decodeJSONBody decodes a JSON request body into dst, rejecting bodies
// that are malformed, oversized, or carry unknown fields.
func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Clientf("request body is required")
		}
		return apperr.Clientf("malformed request body: %v", err)
	}
	return nil
}
