package llm

import (
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"codex-stream/internal/domain"
)

// Rate-limit header prefixes. Each is followed by -used-percent,
// -window-minutes and -resets-in-seconds.
const (
	primaryLimitPrefix   = "x-codex-primary"
	secondaryLimitPrefix = "x-codex-secondary"
)

// ParseRateLimits reads the x-codex quota headers of a response. A window is
// present only when its used-percent header parses as a float; a malformed
// minutes or reset value drops just that field.
func ParseRateLimits(h http.Header) domain.RateLimitSnapshot {
	return domain.RateLimitSnapshot{
		Primary:   parseWindow(h, primaryLimitPrefix),
		Secondary: parseWindow(h, secondaryLimitPrefix),
	}
}

func parseWindow(h http.Header, prefix string) *domain.RateLimitWindow {
	used, ok := headerFloat(h, prefix+"-used-percent")
	if !ok {
		return nil
	}
	w := &domain.RateLimitWindow{UsedPercent: used}
	if v, ok := headerInt(h, prefix+"-window-minutes"); ok {
		w.WindowMinutes = &v
	}
	if v, ok := headerInt(h, prefix+"-resets-in-seconds"); ok {
		w.ResetsInSeconds = &v
	}
	return w
}

func headerFloat(h http.Header, key string) (float64, bool) {
	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func headerInt(h http.Header, key string) (int64, bool) {
	raw := strings.TrimSpace(h.Get(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// RateLimitTracker keeps the most recent quota snapshot seen on any response
// of a client. It is safe for concurrent use.
type RateLimitTracker struct {
	mu     sync.RWMutex
	latest domain.RateLimitSnapshot
	seenAt time.Time
}

// Observe parses h and, when it carries quota data, records it as the latest snapshot.
func (t *RateLimitTracker) Observe(h http.Header) domain.RateLimitSnapshot {
	snap := ParseRateLimits(h)
	if snap.IsEmpty() {
		return snap
	}
	t.mu.Lock()
	t.latest = snap
	t.seenAt = time.Now()
	t.mu.Unlock()
	return snap
}

// Latest returns the last non-empty snapshot and when it was observed.
// ok is false before any response carried quota headers.
func (t *RateLimitTracker) Latest() (snap domain.RateLimitSnapshot, at time.Time, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest, t.seenAt, !t.latest.IsEmpty()
}

var tryAgainPattern = regexp.MustCompile(`(?i)try again in\s*([0-9]+(?:\.[0-9]+)?)\s*(ms|s|seconds?)\b`)

// ParseRetryAfter returns the delay a 429 answer asks for. It understands a
// Retry-After header in seconds (integer or fractional) or as an HTTP-date,
// then falls back to a "try again in 1.5s" / "try again in 250ms" hint in the
// body. ok is false when neither yields a delay.
func ParseRetryAfter(h http.Header, body []byte, now time.Time) (time.Duration, bool) {
	if raw := strings.TrimSpace(h.Get("Retry-After")); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
				return 0, false
			}
			return time.Duration(secs * float64(time.Second)), true
		}
		if at, err := http.ParseTime(raw); err == nil {
			return max(at.Sub(now), 0), true
		}
	}

	m := tryAgainPattern.FindSubmatch(body)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, false
	}
	unit := time.Second
	if strings.EqualFold(string(m[2]), "ms") {
		unit = time.Millisecond
	}
	return time.Duration(n * float64(unit)), true
}
