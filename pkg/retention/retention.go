// Package retention computes the temporary-upload ages available to each
// usergroup.
//
// Periods are configured per group in hours, 0 meaning permanent. A group
// inherits every period of all lower-ranked groups: the resolved list is
// the deduplicated, sorted union. The group's default is the first entry
// of its own configured list, falling back to the nearest lower group
// that configured one.
package retention

import (
	"sort"

	"github.com/perdedora/safe/pkg/store/models"
)

// Config is the per-group period table, keyed by canonical group name.
type Config struct {
	// Enabled turns temporary uploads on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Periods maps group name to allowed ages in hours. 0 = permanent.
	// The first entry of a group's own list is its default.
	Periods map[string][]float64 `mapstructure:"periods" yaml:"periods"`
}

// Resolver answers period queries for a permission rank. It is immutable
// after New and safe for concurrent use.
type Resolver struct {
	enabled  bool
	periods  map[int][]float64 // rank -> resolved union
	defaults map[int]float64   // rank -> resolved default
	hasDef   map[int]bool
}

// New resolves the inheritance fixed point for every known group rank.
func New(cfg Config) *Resolver {
	r := &Resolver{
		enabled:  cfg.Enabled,
		periods:  make(map[int][]float64),
		defaults: make(map[int]float64),
		hasDef:   make(map[int]bool),
	}

	union := make(map[float64]struct{})
	var lastDefault float64
	var lastDefaultSet bool

	// GroupNames is ordered lowest rank first, so a single pass
	// accumulates exactly the lower-rank union each group inherits.
	for _, g := range models.GroupNames {
		own := cfg.Periods[g.Name]
		for _, p := range own {
			union[p] = struct{}{}
		}

		resolved := make([]float64, 0, len(union))
		for p := range union {
			resolved = append(resolved, p)
		}
		sort.Float64s(resolved)
		r.periods[g.Rank] = resolved

		if len(own) > 0 {
			lastDefault = own[0]
			lastDefaultSet = true
		}
		if lastDefaultSet {
			r.defaults[g.Rank] = lastDefault
			r.hasDef[g.Rank] = true
		}
	}

	return r
}

// Enabled reports whether temporary uploads are configured at all.
func (r *Resolver) Enabled() bool {
	return r.enabled
}

// PeriodsFor returns the allowed ages in hours for a permission rank,
// sorted ascending. The slice is shared; callers must not mutate it.
func (r *Resolver) PeriodsFor(rank int) []float64 {
	if !r.enabled {
		return nil
	}
	best := []float64{}
	for _, g := range models.GroupNames {
		if rank >= g.Rank {
			if p, ok := r.periods[g.Rank]; ok {
				best = p
			}
		}
	}
	return best
}

// DefaultFor returns the default age in hours for a rank, and whether one
// is configured.
func (r *Resolver) DefaultFor(rank int) (float64, bool) {
	if !r.enabled {
		return 0, false
	}
	var def float64
	var ok bool
	for _, g := range models.GroupNames {
		if rank >= g.Rank && r.hasDef[g.Rank] {
			def = r.defaults[g.Rank]
			ok = true
		}
	}
	return def, ok
}

// Allowed reports whether a rank may request the given age.
func (r *Resolver) Allowed(rank int, age float64) bool {
	for _, p := range r.PeriodsFor(rank) {
		if p == age {
			return true
		}
	}
	return false
}
