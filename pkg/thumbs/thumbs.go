// Package thumbs generates square PNG thumbnails for image uploads in
// the background.
package thumbs

import (
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/perdedora/safe/internal/logger"
	"github.com/perdedora/safe/pkg/paths"
)

// thumbSide is the bounding box thumbnails fit into.
const thumbSide = 200

// imageExtensions are the formats the generator can decode.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// Config controls thumbnail generation.
type Config struct {
	// Enabled turns generation on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Workers bounds concurrent generation jobs.
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// Generator renders thumbnails fire-and-forget. Schedule never blocks
// the upload response; a bounded semaphore keeps decode concurrency in
// check.
type Generator struct {
	cfg   Config
	paths *paths.Paths
	sem   chan struct{}
	wg    sync.WaitGroup
}

// New creates a Generator.
func New(cfg Config, p *paths.Paths) *Generator {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Generator{
		cfg:   cfg,
		paths: p,
		sem:   make(chan struct{}, cfg.Workers),
	}
}

// Eligible reports whether files with this extension get a thumbnail.
func (g *Generator) Eligible(extension string) bool {
	if !g.cfg.Enabled {
		return false
	}
	return imageExtensions[strings.ToLower(extension)]
}

// Schedule queues thumbnail generation for an uploaded name. Errors are
// logged, never surfaced; a missing thumbnail is cosmetic.
func (g *Generator) Schedule(name string) {
	if !g.cfg.Enabled {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.sem <- struct{}{}
		defer func() { <-g.sem }()
		if err := g.generate(name); err != nil {
			logger.Warn("thumbnail generation failed", "upload", name, "error", err)
		}
	}()
}

// Wait blocks until all scheduled jobs finish. Used in tests and on
// shutdown.
func (g *Generator) Wait() {
	g.wg.Wait()
}

func (g *Generator) generate(name string) error {
	src, err := g.paths.UploadPath(name)
	if err != nil {
		return err
	}
	identifier := name
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		identifier = name[:i]
	}
	dest, err := g.paths.ThumbPath(identifier)
	if err != nil {
		return err
	}

	img, err := imaging.Open(src)
	if err != nil {
		return err
	}
	thumb := imaging.Fit(img, thumbSide, thumbSide, imaging.Lanczos)
	return imaging.Save(thumb, dest)
}
