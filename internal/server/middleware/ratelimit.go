package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxClients = 1024
	clientIdle        = 10 * time.Minute
)

// RateLimitConfig holds per-client rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	// MaxClients bounds the number of tracked client addresses; the least
	// recently seen client is evicted first. Zero uses 1024.
	MaxClients int
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiters keeps one token bucket per client address.
type clientLimiters struct {
	mu         sync.Mutex
	clients    map[string]*clientEntry
	rps        rate.Limit
	burst      int
	maxClients int
	now        func() time.Time
}

func newClientLimiters(rps float64, burst, maxClients int) *clientLimiters {
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	return &clientLimiters{
		clients:    make(map[string]*clientEntry),
		rps:        rate.Limit(rps),
		burst:      burst,
		maxClients: maxClients,
		now:        time.Now,
	}
}

func (l *clientLimiters) allow(client string) bool {
	l.mu.Lock()
	now := l.now()
	entry, ok := l.clients[client]
	if !ok {
		if len(l.clients) >= l.maxClients {
			if l.cleanupLocked(clientIdle) == 0 {
				l.evictOldestLocked()
			}
		}
		entry = &clientEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[client] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

func (l *clientLimiters) evictOldestLocked() {
	var (
		oldest   string
		oldestAt time.Time
	)
	for client, entry := range l.clients {
		if oldest == "" || entry.lastSeen.Before(oldestAt) {
			oldest, oldestAt = client, entry.lastSeen
		}
	}
	delete(l.clients, oldest)
}

// cleanupLocked drops clients not seen for longer than idle.
func (l *clientLimiters) cleanupLocked(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	removed := 0
	for client, entry := range l.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(l.clients, client)
			removed++
		}
	}
	return removed
}

func (l *clientLimiters) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// RateLimit creates a middleware that limits the request rate of every
// client address separately, using a token bucket that allows bursts up to
// Burst and refills at RequestsPerSecond.
func RateLimit(cfg RateLimitConfig) Middleware {
	if !cfg.Enabled {
		return passthrough
	}

	limiters := newClientLimiters(cfg.RequestsPerSecond, cfg.Burst, cfg.MaxClients)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the host part of the peer address. Forwarding headers
// are ignored: the status endpoint is not meant to sit behind a proxy and
// the headers are trivially spoofed.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
