package saxo_openapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	XRateLimitSessionRemaining  = "X-RateLimit-Session-Remaining"
	XRateLimitSessionReset      = "X-RateLimit-Session-Reset"
	DefaultLowRequestsThreshold = 5
)

// RateLimiter tracks the session request budget reported by the gateway
// and sleeps when it is exhausted.
type RateLimiter struct {
	mutex                sync.Mutex
	sessionRemaining     int
	sessionResetTime     time.Time
	lowRequestsThreshold int

	sleep func(time.Duration)
}

func NewRateLimiter(lowRequestsThreshold int) *RateLimiter {
	if lowRequestsThreshold <= 0 {
		lowRequestsThreshold = DefaultLowRequestsThreshold
	}
	return &RateLimiter{
		sessionRemaining:     lowRequestsThreshold * 2,
		sessionResetTime:     time.Now(),
		lowRequestsThreshold: lowRequestsThreshold,
		sleep:                time.Sleep,
	}
}

// UpdateLimits reads the session budget headers of a response.
func (rl *RateLimiter) UpdateLimits(headers http.Header) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if s := headers.Get(XRateLimitSessionRemaining); s != "" {
		if remaining, err := strconv.Atoi(s); err == nil {
			rl.sessionRemaining = remaining
		} else {
			logrus.Warnf("RateLimiter: failed to parse %s header '%s': %v", XRateLimitSessionRemaining, s, err)
		}
	}
	if s := headers.Get(XRateLimitSessionReset); s != "" {
		if seconds, err := strconv.ParseFloat(s, 64); err == nil {
			rl.sessionResetTime = time.Now().Add(time.Duration(seconds * float64(time.Second)))
		} else {
			logrus.Warnf("RateLimiter: failed to parse %s header '%s': %v", XRateLimitSessionReset, s, err)
		}
	}
}

// WaitIfNeeded blocks until the next request may be sent.
func (rl *RateLimiter) WaitIfNeeded() {
	rl.mutex.Lock()
	remaining := rl.sessionRemaining
	resetAt := rl.sessionResetTime
	threshold := rl.lowRequestsThreshold
	rl.mutex.Unlock()

	switch {
	case remaining <= 0:
		if d := time.Until(resetAt.Add(time.Second)); d > 0 {
			logrus.Warnf("RateLimiter: no requests remaining, sleeping %v", d)
			rl.sleep(d)
		}
	case remaining < threshold:
		untilReset := time.Until(resetAt)
		if untilReset > 0 && untilReset < 5*time.Second {
			logrus.Infof("RateLimiter: low requests (%d/%d), waiting %v for reset", remaining, threshold, untilReset)
			rl.sleep(untilReset + 500*time.Millisecond)
		}
	}
}
