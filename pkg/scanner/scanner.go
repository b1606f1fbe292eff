// Package scanner submits uploads to a ClamAV daemon and classifies the
// results. Both scan styles of the ingest engine are supported: an inline
// passthrough over the upload stream, and a post-hoc scan of the file
// already on disk.
package scanner

import (
	"context"
	"fmt"
	"io"
	"strings"

	clamd "github.com/dutchcoders/go-clamd"

	"github.com/perdedora/safe/internal/logger"
)

// Verdict classifies one scanned object.
type Verdict int

const (
	// VerdictClean means the engine saw nothing.
	VerdictClean Verdict = iota

	// VerdictInfected means at least one signature matched.
	VerdictInfected

	// VerdictUnknown means the engine could not scan the object.
	VerdictUnknown
)

// Result is the outcome for one object.
type Result struct {
	Verdict Verdict

	// Viruses carries the matched signature names for VerdictInfected.
	Viruses []string
}

// Config controls scanning and its bypass policy.
type Config struct {
	// Enabled turns scanning on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Address is the clamd TCP address, e.g. "tcp://127.0.0.1:3310".
	Address string `mapstructure:"address" yaml:"address"`

	// BypassRank exempts users at or above this permission rank.
	// Negative disables the rank bypass.
	BypassRank int `mapstructure:"bypass_rank" yaml:"bypass_rank"`

	// WhitelistExtensions are never scanned (with leading dot).
	WhitelistExtensions []string `mapstructure:"whitelist_extensions" yaml:"whitelist_extensions"`

	// MaxScanSize exempts files larger than this many bytes. 0 = no cap.
	MaxScanSize int64 `mapstructure:"max_scan_size" yaml:"max_scan_size"`
}

// Scanner is the surface the ingest engine consumes.
type Scanner interface {
	// ScanPath scans a finished file on disk.
	ScanPath(ctx context.Context, path string) (Result, error)

	// ScanStream scans r to EOF. It blocks until the daemon's verdict.
	ScanStream(ctx context.Context, r io.Reader) (Result, error)
}

// ClamScanner talks to a ClamAV daemon over its TCP protocol.
type ClamScanner struct {
	cfg    Config
	client *clamd.Clamd
}

// New creates a ClamScanner and verifies the daemon responds to PING.
func New(cfg Config) (*ClamScanner, error) {
	client := clamd.NewClamd(cfg.Address)
	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("clamd unreachable at %s: %w", cfg.Address, err)
	}
	return &ClamScanner{cfg: cfg, client: client}, nil
}

// ShouldScan applies the bypass policy for one file.
func (s *ClamScanner) ShouldScan(rank int, extension string, size int64) bool {
	if s.cfg.BypassRank >= 0 && rank >= s.cfg.BypassRank {
		return false
	}
	ext := strings.ToLower(extension)
	for _, w := range s.cfg.WhitelistExtensions {
		if ext == strings.ToLower(w) {
			return false
		}
	}
	if s.cfg.MaxScanSize > 0 && size > s.cfg.MaxScanSize {
		return false
	}
	return true
}

// ScanPath scans a file on disk via clamd SCAN.
func (s *ClamScanner) ScanPath(ctx context.Context, path string) (Result, error) {
	ch, err := s.client.ScanFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("clamd scan failed: %w", err)
	}
	return s.collect(ctx, ch)
}

// ScanStream scans r via clamd INSTREAM; used as the passthrough side of
// the upload pipe.
func (s *ClamScanner) ScanStream(ctx context.Context, r io.Reader) (Result, error) {
	abort := make(chan bool)
	defer close(abort)
	ch, err := s.client.ScanStream(r, abort)
	if err != nil {
		return Result{}, fmt.Errorf("clamd instream failed: %w", err)
	}
	return s.collect(ctx, ch)
}

// collect folds the daemon's per-object responses into one Result.
func (s *ClamScanner) collect(ctx context.Context, ch chan *clamd.ScanResult) (Result, error) {
	result := Result{Verdict: VerdictClean}
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case sr, ok := <-ch:
			if !ok {
				return result, nil
			}
			switch sr.Status {
			case clamd.RES_OK:
			case clamd.RES_FOUND:
				result.Verdict = VerdictInfected
				result.Viruses = append(result.Viruses, sr.Description)
			default:
				if result.Verdict == VerdictClean {
					result.Verdict = VerdictUnknown
				}
				logger.Warn("clamd could not scan object", "status", sr.Status, "detail", sr.Description)
			}
		}
	}
}

// Aggregate folds per-file results into the single request-level error the
// upload response carries, or nil when everything is clean. Infection wins
// over unscannable; the message names the first threat with an ", and
// more" suffix when several matched.
func Aggregate(results []Result) error {
	var viruses []string
	unknown := false
	for _, r := range results {
		switch r.Verdict {
		case VerdictInfected:
			viruses = append(viruses, r.Viruses...)
		case VerdictUnknown:
			unknown = true
		}
	}
	if len(viruses) > 0 {
		msg := "Threat detected: " + viruses[0]
		if len(viruses) > 1 {
			msg += ", and more"
		}
		return fmt.Errorf("%s", msg)
	}
	if unknown {
		return fmt.Errorf("unable to scan 1 or more files")
	}
	return nil
}
