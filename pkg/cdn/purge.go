// Package cdn pushes cache purge requests to Cloudflare after uploads
// are deleted. Purging is best effort: failures are logged and never
// block the deletion that triggered them.
package cdn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/metrics"
)

const (
	// purgeChunkSize is the Cloudflare per-call URL limit we batch to.
	purgeChunkSize = 30

	// maxRetries per chunk.
	maxRetries = 3

	// rateLimitDelay applies after HTTP 429; errorDelay after anything else.
	rateLimitDelay = 60 * time.Second
	errorDelay     = 5 * time.Second
)

// Config is the Cloudflare purge configuration. Auth uses the first
// credential present: APIToken, UserServiceKey, then APIKey with Email.
type Config struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Zone           string `mapstructure:"zone" yaml:"zone"`
	APIToken       string `mapstructure:"api_token" yaml:"api_token"`
	UserServiceKey string `mapstructure:"user_service_key" yaml:"user_service_key"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key"`
	Email          string `mapstructure:"email" yaml:"email"`

	// BaseURL is the public URL files are served under, without a
	// trailing slash.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// ThumbPath is the public path thumbnails are served under,
	// relative to BaseURL. Empty disables thumbnail purging.
	ThumbPath string `mapstructure:"thumb_path" yaml:"thumb_path"`

	// QueueSize bounds the pending job queue.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`

	// APIBase overrides the Cloudflare API root; tests point it at a
	// local server.
	APIBase string `mapstructure:"-" yaml:"-"`
}

// ThumbCheck answers whether a file name has a thumbnail worth purging.
type ThumbCheck func(extension string) bool

// Purger runs a serial purge queue: one worker, one in-flight API call.
type Purger struct {
	cfg    Config
	client *http.Client
	jobs   chan []string
	thumbs ThumbCheck
	stats  *metrics.Metrics
}

// New creates a Purger and starts its worker. ctx cancellation drains
// nothing; pending jobs are dropped on shutdown.
func New(ctx context.Context, cfg Config, thumbs ThumbCheck) *Purger {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	p := &Purger{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		jobs:   make(chan []string, cfg.QueueSize),
		thumbs: thumbs,
	}
	go p.worker(ctx)
	return p
}

// WithMetrics attaches the pipeline collectors.
func (p *Purger) WithMetrics(m *metrics.Metrics) *Purger {
	p.stats = m
	return p
}

// PurgeNames enqueues purge jobs for the given file names, expanding
// each to its public URL plus its thumbnail URL when applicable. Never
// blocks; jobs are dropped with a log line when the queue is full.
func (p *Purger) PurgeNames(names []string) {
	if !p.cfg.Enabled || len(names) == 0 {
		return
	}
	urls := make([]string, 0, len(names)*2)
	for _, name := range names {
		urls = append(urls, p.cfg.BaseURL+"/"+name)
		if p.cfg.ThumbPath != "" && p.thumbs != nil {
			if i := strings.LastIndexByte(name, '.'); i > 0 && p.thumbs(name[i:]) {
				urls = append(urls, p.cfg.BaseURL+"/"+p.cfg.ThumbPath+"/"+name[:i]+".png")
			}
		}
	}
	p.PurgeURLs(urls)
}

// PurgeURLs enqueues raw URLs in chunks of the Cloudflare limit.
func (p *Purger) PurgeURLs(urls []string) {
	if !p.cfg.Enabled {
		return
	}
	for len(urls) > 0 {
		n := purgeChunkSize
		if len(urls) < n {
			n = len(urls)
		}
		select {
		case p.jobs <- urls[:n]:
		default:
			logger.Warn("cdn purge queue full, dropping job", "count", n)
		}
		urls = urls[n:]
	}
}

// worker drains the queue one job at a time.
func (p *Purger) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case urls := <-p.jobs:
			err := p.purgeChunk(ctx, urls)
			p.stats.RecordPurge(err)
			if err != nil {
				logger.Warn("cdn purge failed", "count", len(urls), "error", err)
			}
		}
	}
}

// retryableError carries the backoff delay the failure calls for.
type retryableError struct {
	err   error
	delay time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }

// delayBackoff reports the delay of the last failure.
type delayBackoff struct {
	delay *time.Duration
}

func (b *delayBackoff) NextBackOff() time.Duration { return *b.delay }
func (b *delayBackoff) Reset()                     {}

// purgeChunk issues one purge call with up to maxRetries retries.
// Rate limiting backs off longer than other failures.
func (p *Purger) purgeChunk(ctx context.Context, urls []string) error {
	delay := errorDelay
	operation := func() error {
		err := p.callPurge(ctx, urls)
		if err == nil {
			return nil
		}
		var re *retryableError
		if errors.As(err, &re) {
			delay = re.delay
			return re.err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&delayBackoff{delay: &delay}, maxRetries), ctx)
	return backoff.RetryNotify(operation, b, func(err error, next time.Duration) {
		logger.Debug("retrying cdn purge", "error", err, "backoff", next.String())
	})
}

type purgeRequest struct {
	Files []string `json:"files"`
}

type purgeResponse struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// callPurge performs one Cloudflare purge_cache call.
func (p *Purger) callPurge(ctx context.Context, urls []string) error {
	body, err := json.Marshal(purgeRequest{Files: urls})
	if err != nil {
		return err
	}

	base := p.cfg.APIBase
	if base == "" {
		base = "https://api.cloudflare.com/client/v4"
	}
	endpoint := fmt.Sprintf("%s/zones/%s/purge_cache", base, p.cfg.Zone)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return &retryableError{err: err, delay: errorDelay}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &retryableError{err: fmt.Errorf("rate limited by cloudflare"), delay: rateLimitDelay}
	}

	var parsed purgeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return &retryableError{err: fmt.Errorf("unreadable purge response: %w", err), delay: errorDelay}
	}
	if !parsed.Success {
		msg := "unknown error"
		if len(parsed.Errors) > 0 {
			msg = parsed.Errors[0].Message
		}
		return &retryableError{err: fmt.Errorf("purge rejected: %s", msg), delay: errorDelay}
	}
	return nil
}

// authorize sets the first configured credential.
func (p *Purger) authorize(req *http.Request) {
	switch {
	case p.cfg.APIToken != "":
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)
	case p.cfg.UserServiceKey != "":
		req.Header.Set("X-Auth-User-Service-Key", p.cfg.UserServiceKey)
	case p.cfg.APIKey != "" && p.cfg.Email != "":
		req.Header.Set("X-Auth-Key", p.cfg.APIKey)
		req.Header.Set("X-Auth-Email", p.cfg.Email)
	}
}
