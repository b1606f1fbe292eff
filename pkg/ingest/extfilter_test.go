package ingest

import "testing"

func TestExtFilterAllowed(t *testing.T) {
	tests := []struct {
		name   string
		filter ExtFilter
		ext    string
		want   bool
	}{
		{"empty filter accepts", ExtFilter{}, ".exe", true},
		{"blacklist rejects", ExtFilter{Blacklist: []string{".exe", ".bat"}}, ".exe", false},
		{"blacklist passes others", ExtFilter{Blacklist: []string{".exe"}}, ".png", true},
		{"blacklist is case-insensitive", ExtFilter{Blacklist: []string{".EXE"}}, ".exe", false},
		{"whitelist accepts listed", ExtFilter{Whitelist: []string{".png", ".jpg"}}, ".png", true},
		{"whitelist rejects others", ExtFilter{Whitelist: []string{".png"}}, ".gif", false},
		{"whitelist wins over blacklist", ExtFilter{Whitelist: []string{".exe"}, Blacklist: []string{".exe"}}, ".exe", true},
		{"mixed case extension", ExtFilter{Whitelist: []string{".png"}}, ".PNG", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Allowed(tt.ext); got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.ext, got, tt.want)
			}
		})
	}
}
