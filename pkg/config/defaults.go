package config

import (
	"time"

	"github.com/perdedora/safe/internal/bytesize"
	"github.com/perdedora/safe/pkg/chunks"
)

// GetDefaultConfig returns a configuration usable out of the box: SQLite
// under ./database, uploads under ./uploads, anonymous uploads allowed.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in every zero value with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9999
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	cfg.Database.ApplyDefaults()

	if cfg.Paths.UploadsRoot == "" {
		cfg.Paths.UploadsRoot = "uploads"
	}

	if cfg.Uploads.MaxSize == 0 {
		cfg.Uploads.MaxSize = 512 * bytesize.MiB
	}
	if cfg.Uploads.Ingest.MaxFilesPerUpload == 0 {
		cfg.Uploads.Ingest.MaxFilesPerUpload = 20
	}
	if cfg.Uploads.Ingest.IdentifierLength == 0 {
		cfg.Uploads.Ingest.IdentifierLength = 8
	}
	if cfg.Uploads.Ingest.IdentifierMinLength == 0 {
		cfg.Uploads.Ingest.IdentifierMinLength = 4
	}
	if cfg.Uploads.Ingest.IdentifierMaxLength == 0 {
		cfg.Uploads.Ingest.IdentifierMaxLength = 32
	}
	if cfg.Chunks.Timeout == 0 {
		cfg.Chunks.Timeout = chunks.DefaultTimeout
	}
	if cfg.Chunks.MaxChunks == 0 {
		cfg.Chunks.MaxChunks = 1000
	}
	if cfg.Chunks.MaxSize == 0 {
		cfg.Chunks.MaxSize = int64(cfg.Uploads.MaxSize)
	}
	cfg.Chunks.Hashing = !cfg.Uploads.NoHashing

	if cfg.Retention.Periods == nil {
		cfg.Retention.Periods = map[string][]float64{
			"user": {0, 24, 168},
		}
	}

	if cfg.Scanner.Address == "" {
		cfg.Scanner.Address = "tcp://127.0.0.1:3310"
	}
	if cfg.Scanner.BypassRank == 0 {
		cfg.Scanner.BypassRank = -1
	}

	if cfg.Zip.MaxTotalSize == 0 {
		cfg.Zip.MaxTotalSize = 2 * int64(bytesize.GiB)
	}

	if cfg.Cache.Size == 0 {
		cfg.Cache.Size = 1024
	}

	if cfg.Sweep.Interval == 0 {
		cfg.Sweep.Interval = time.Minute
	}

	if cfg.Pages.FilesPerPage == 0 {
		cfg.Pages.FilesPerPage = 25
	}
}
