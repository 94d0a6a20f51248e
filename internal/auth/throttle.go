package auth

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// Client limiters idle for longer than this are dropped on the next sweep.
	throttleIdle = 10 * time.Minute
	// A sweep runs once the table holds this many clients.
	throttleSweepAt = 1024
)

type throttleEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle limits requests per client IP with a token bucket per client.
// A nil *Throttle allows everything.
type Throttle struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*throttleEntry
}

// NewThrottle allows perMinute requests per client IP per minute, all of
// which may arrive at once. It returns nil when perMinute is not positive.
func NewThrottle(perMinute int) *Throttle {
	if perMinute <= 0 {
		return nil
	}
	return &Throttle{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		now:     time.Now,
		clients: make(map[string]*throttleEntry),
	}
}

// Middleware rejects requests over the limit with 429 and a Retry-After header.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	if t == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if wait := t.reserve(key); wait > 0 {
			log.Warn().Str("client", key).Str("path", r.URL.Path).Dur("retry_after", wait).Msg("Too many auth attempts")
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"message": "Too Many Attempts."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// reserve takes one token for key. It returns zero when the request may
// proceed, or how long the client has to wait otherwise.
func (t *Throttle) reserve(key string) time.Duration {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.clients) >= throttleSweepAt {
		for k, e := range t.clients {
			if now.Sub(e.lastSeen) > throttleIdle {
				delete(t.clients, k)
			}
		}
	}

	e, ok := t.clients[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.clients[key] = e
	}
	e.lastSeen = now

	res := e.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay
	}
	return 0
}

// clientKey is the client IP taken from RemoteAddr. That is the socket peer
// unless the router was told to trust proxy headers.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
