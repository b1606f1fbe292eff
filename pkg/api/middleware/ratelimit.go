package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// FailureLimiter throttles clients that keep failing authentication:
// after the burst of failures is spent, further auth attempts from that
// IP are rejected until the window refills.
type FailureLimiter struct {
	mu       sync.Mutex
	clients  map[string]*rate.Limiter
	failures int
	window   time.Duration
}

// NewFailureLimiter allows failures bad attempts per window per client
// IP. The defaults the service uses are 6 failures per 10 minutes.
func NewFailureLimiter(failures int, window time.Duration) *FailureLimiter {
	if failures <= 0 {
		failures = 6
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &FailureLimiter{
		clients:  make(map[string]*rate.Limiter),
		failures: failures,
		window:   window,
	}
}

func (l *FailureLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.clients[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.window/time.Duration(l.failures)), l.failures)
		l.clients[ip] = lim
	}
	return lim
}

// Allow reports whether ip still has failure budget left. It does not
// consume any; only Failure does.
func (l *FailureLimiter) Allow(ip string) bool {
	return l.limiter(ip).Tokens() >= 1
}

// Failure consumes one unit of ip's failure budget.
func (l *FailureLimiter) Failure(ip string) {
	l.limiter(ip).Allow()
}

// ClientIP extracts the client address, trusting chi's RealIP middleware
// to have rewritten RemoteAddr when proxy headers are trusted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
