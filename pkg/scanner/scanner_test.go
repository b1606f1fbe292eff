package scanner

import (
	"strings"
	"testing"

	"github.com/perdedora/safe/pkg/store/models"
)

func TestShouldScan(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		rank int
		ext  string
		size int64
		want bool
	}{
		{"default scans", Config{BypassRank: -1}, models.RankUser, ".exe", 100, true},
		{"rank bypass", Config{BypassRank: models.RankModerator}, models.RankModerator, ".exe", 100, false},
		{"rank below threshold scans", Config{BypassRank: models.RankModerator}, models.RankVIP, ".exe", 100, true},
		{"negative rank disables bypass", Config{BypassRank: -1}, models.RankSuperadmin, ".exe", 100, true},
		{"whitelisted extension", Config{BypassRank: -1, WhitelistExtensions: []string{".png"}}, models.RankUser, ".png", 100, false},
		{"whitelist is case-insensitive", Config{BypassRank: -1, WhitelistExtensions: []string{".PNG"}}, models.RankUser, ".png", 100, false},
		{"oversize exempted", Config{BypassRank: -1, MaxScanSize: 50}, models.RankUser, ".bin", 100, false},
		{"at the size cap scans", Config{BypassRank: -1, MaxScanSize: 100}, models.RankUser, ".bin", 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &ClamScanner{cfg: tt.cfg}
			if got := s.ShouldScan(tt.rank, tt.ext, tt.size); got != tt.want {
				t.Errorf("ShouldScan(%d, %q, %d) = %v, want %v", tt.rank, tt.ext, tt.size, got, tt.want)
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    string // "" means nil error
	}{
		{"empty", nil, ""},
		{"all clean", []Result{{Verdict: VerdictClean}, {Verdict: VerdictClean}}, ""},
		{"one threat", []Result{{Verdict: VerdictInfected, Viruses: []string{"Eicar-Test-Signature"}}},
			"Threat detected: Eicar-Test-Signature"},
		{"several threats", []Result{
			{Verdict: VerdictInfected, Viruses: []string{"Win.Trojan.A", "Win.Trojan.B"}},
		}, "Threat detected: Win.Trojan.A, and more"},
		{"unscannable", []Result{{Verdict: VerdictUnknown}}, "unable to scan 1 or more files"},
		{"infection wins over unscannable", []Result{
			{Verdict: VerdictUnknown},
			{Verdict: VerdictInfected, Viruses: []string{"Eicar-Test-Signature"}},
		}, "Threat detected: Eicar-Test-Signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Aggregate(tt.results)
			if tt.want == "" {
				if err != nil {
					t.Errorf("Aggregate = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Aggregate = %v, want %q", err, tt.want)
			}
		})
	}
}
