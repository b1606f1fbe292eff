package ingest

import "strings"

// ExtFilter accepts or rejects file extensions. Whitelist mode wins when
// both lists are configured; an empty filter accepts everything.
type ExtFilter struct {
	// Whitelist, when non-empty, is the only set of allowed extensions.
	Whitelist []string `mapstructure:"whitelist" yaml:"whitelist"`

	// Blacklist rejects the listed extensions when no whitelist is set.
	Blacklist []string `mapstructure:"blacklist" yaml:"blacklist"`
}

// Allowed reports whether ext (with leading dot) passes the filter.
// Matching is case-insensitive.
func (f *ExtFilter) Allowed(ext string) bool {
	ext = strings.ToLower(ext)
	if len(f.Whitelist) > 0 {
		for _, w := range f.Whitelist {
			if ext == strings.ToLower(w) {
				return true
			}
		}
		return false
	}
	for _, b := range f.Blacklist {
		if ext == strings.ToLower(b) {
			return false
		}
	}
	return true
}
