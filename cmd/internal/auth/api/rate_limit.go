package authapi

import (
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// maxTrackedKeys bounds each failure map; older keys are pruned first.
const maxTrackedKeys = 50_000

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// loginThrottle records failed logins per client IP and per normalized username
// and refuses further attempts while a window limit or a lockout tier applies.
// State is process-local; it is edge protection, not part of session state.
type loginThrottle struct {
	mu     sync.Mutex
	byIP   map[string][]time.Time
	byUser map[string][]time.Time

	ipMax      int
	ipWindow   time.Duration
	userWindow time.Duration
	tiers      []lockoutTier
}

func newLoginThrottle(cfg Config) *loginThrottle {
	var tiers []lockoutTier
	for _, t := range []lockoutTier{
		{Threshold: cfg.LockoutSevereThreshold, Duration: cfg.LockoutSevereDuration},
		{Threshold: cfg.LockoutLongThreshold, Duration: cfg.LockoutLongDuration},
		{Threshold: cfg.LockoutShortThreshold, Duration: cfg.LockoutShortDuration},
	} {
		if t.Threshold > 0 && t.Duration > 0 {
			tiers = append(tiers, t)
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Threshold > tiers[j].Threshold })

	userWindow := cfg.LoginUserWindow
	for _, t := range tiers {
		if t.Duration > userWindow {
			userWindow = t.Duration
		}
	}

	return &loginThrottle{
		byIP:       make(map[string][]time.Time),
		byUser:     make(map[string][]time.Time),
		ipMax:      cfg.LoginIPMax,
		ipWindow:   cfg.LoginIPWindow,
		userWindow: userWindow,
		tiers:      tiers,
	}
}

// check reports whether a login attempt must be refused and for how long.
func (t *loginThrottle) check(now time.Time, ip net.IP, user string) (bool, time.Duration) {
	if t == nil {
		return false, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if ip != nil && t.ipMax > 0 {
		key := ip.String()
		failures := prune(t.byIP[key], now.Add(-t.ipWindow))
		t.store(t.byIP, key, failures)
		if blocked, retry := evaluateWindowThrottle(now, failures, t.ipMax, t.ipWindow); blocked {
			return true, retry
		}
	}

	if user != "" && len(t.tiers) > 0 {
		failures := prune(t.byUser[user], now.Add(-t.userWindow))
		t.store(t.byUser, user, failures)
		if blocked, retry := evaluateProgressiveLockout(now, failures, t.tiers); blocked {
			return true, retry
		}
	}

	return false, 0
}

func (t *loginThrottle) fail(now time.Time, ip net.IP, user string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if ip != nil {
		key := ip.String()
		t.store(t.byIP, key, append(prune(t.byIP[key], now.Add(-t.ipWindow)), now))
	}
	if user != "" {
		t.store(t.byUser, user, append(prune(t.byUser[user], now.Add(-t.userWindow)), now))
	}
}

// succeed forgets the username's failures; IP failures keep counting.
func (t *loginThrottle) succeed(user string) {
	if t == nil || user == "" {
		return
	}
	t.mu.Lock()
	delete(t.byUser, user)
	t.mu.Unlock()
}

func (t *loginThrottle) store(m map[string][]time.Time, key string, failures []time.Time) {
	if len(failures) == 0 {
		delete(m, key)
		return
	}
	if _, ok := m[key]; !ok && len(m) >= maxTrackedKeys {
		evictOldest(m)
	}
	m[key] = failures
}

func evictOldest(m map[string][]time.Time) {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, v := range m {
		last := v[len(v)-1]
		if oldestKey == "" || last.Before(oldest) {
			oldestKey, oldest = k, last
		}
	}
	delete(m, oldestKey)
}

func prune(failures []time.Time, cut time.Time) []time.Time {
	dst := failures[:0]
	for _, f := range failures {
		if f.After(cut) {
			dst = append(dst, f)
		}
	}
	return dst
}

// evaluateWindowThrottle blocks once limit failures fall inside the trailing window.
// The retry delay lasts until the oldest counted failure leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	var (
		count  int
		oldest time.Time
	)
	for _, f := range failures {
		if !f.After(cut) {
			continue
		}
		if count == 0 || f.Before(oldest) {
			oldest = f
		}
		count++
	}
	if count < limit {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the first tier (highest threshold first)
// whose threshold is reached and whose lock, counted from the latest failure,
// has not yet run out.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, f := range failures[1:] {
		if f.After(latest) {
			latest = f
		}
	}
	for _, tier := range tiers {
		if tier.Threshold <= 0 || len(failures) < tier.Threshold {
			continue
		}
		if until := latest.Add(tier.Duration); until.After(now) {
			return true, until.Sub(now)
		}
	}
	return false, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}
