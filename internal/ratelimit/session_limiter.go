package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "diagcenter:session-limit"

// countAndExpire bumps the window counter and stamps the TTL when the counter
// is created, so abandoned windows clean themselves up.
var countAndExpire = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// SessionLimiter caps how often a client may request a new session token.
// Counters live in Redis so the cap holds across replicas; each client key
// gets a fresh quota when the wall-clock window rolls over.
type SessionLimiter struct {
	perWindow int
	window    time.Duration
	rdb       *redis.Client

	now func() time.Time
}

// NewSessionLimiter connects to Redis and returns a limiter admitting
// perWindow session requests per client key in each window.
func NewSessionLimiter(addr, password string, perWindow int, window time.Duration) (*SessionLimiter, error) {
	if perWindow <= 0 || window <= 0 {
		return nil, errors.New("session limiter requires a positive quota and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("session limiter requires a redis address")
	}
	return &SessionLimiter{
		perWindow: perWindow,
		window:    window,
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		now: time.Now,
	}, nil
}

// Window reports the window length, used for Retry-After headers.
func (l *SessionLimiter) Window() time.Duration {
	return l.window
}

// Allow reports whether the client may issue another session request in the
// current window. On Redis failures it fails closed: an unreachable counter
// must not drop the cap.
func (l *SessionLimiter) Allow(clientKey string) bool {
	if l == nil {
		return false
	}
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		clientKey = "unknown"
	}
	windowMs := l.window.Milliseconds()
	slot := l.now().UTC().UnixMilli() / windowMs
	counterKey := fmt.Sprintf("%s:%s:%d", keyPrefix, clientKey, slot)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := countAndExpire.Run(ctx, l.rdb, []string{counterKey}, windowMs).Int64()
	if err != nil {
		return false
	}
	return n <= int64(l.perWindow)
}
