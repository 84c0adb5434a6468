package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"carnival/httputil"
)

// RateLimiter implements a per-IP fixed-window rate limiter.
// State is in-process: suitable for a single-instance deployment.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*bucket
	rate     int           // requests per window
	window   time.Duration // window length
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetIn   time.Duration
}

// New creates a new RateLimiter with the given rate and window.
// Call Stop to end the background eviction loop.
func New(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*bucket),
		rate:     rate,
		window:   window,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	// Evict stale entries periodically to prevent unbounded map growth.
	interval := window
	if interval < time.Minute {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.cleanup()
			case <-rl.stop:
				return
			}
		}
	}()
	return rl
}

// Stop ends the eviction loop. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-2 * rl.window)
	for ip, b := range rl.visitors {
		if b.lastReset.Before(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

// Allow returns true if the given IP is within the rate limit.
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.Take(ip).Allowed
}

// Take consumes one request for ip and reports the window state.
func (rl *RateLimiter) Take(ip string) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.visitors[ip]
	if !exists || now.Sub(b.lastReset) >= rl.window {
		b = &bucket{tokens: rl.rate, lastReset: now}
		rl.visitors[ip] = b
	}

	d := Decision{Limit: rl.rate, ResetIn: rl.window - now.Sub(b.lastReset)}
	if b.tokens <= 0 {
		return d
	}
	b.tokens--
	d.Allowed = true
	d.Remaining = b.tokens
	return d
}

// trustedCIDRs are Docker/loopback networks whose proxy headers we trust.
var trustedCIDRs = func() []*net.IPNet {
	cidrs := []string{
		"127.0.0.0/8",    // loopback
		"10.0.0.0/8",     // Docker default bridge & overlay
		"172.16.0.0/12",  // Docker default bridge range
		"192.168.0.0/16", // common local networks
		"::1/128",        // IPv6 loopback
		"fc00::/7",       // IPv6 unique local
	}
	var nets []*net.IPNet
	for _, c := range cidrs {
		_, n, _ := net.ParseCIDR(c)
		nets = append(nets, n)
	}
	return nets
}()

func isTrustedProxy(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, cidr := range trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP extracts the real client IP. It is both the rate-limit key and
// the voter identity.
// Only trusts X-Real-IP / X-Forwarded-For when the request comes from a
// known proxy (Docker internal network or loopback). Direct connections
// from the internet use RemoteAddr, preventing header-spoofed bypasses.
func ClientIP(r *http.Request) string {
	if isTrustedProxy(r.RemoteAddr) {
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			// Only trust the first IP (set by the outermost proxy).
			if idx := strings.IndexByte(forwarded, ','); idx != -1 {
				return strings.TrimSpace(forwarded[:idx])
			}
			return strings.TrimSpace(forwarded)
		}
	}
	// Strip port from RemoteAddr for direct connections.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware returns HTTP 429 when the per-IP rate is exceeded.
func Middleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := rl.Take(ClientIP(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				secs := int(d.ResetIn.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				httputil.WriteError(w, http.StatusTooManyRequests, "too many requests from this IP, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
