package authapi

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEvaluateWindowThrottle(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)

	failures := []time.Time{
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-6 * time.Minute),
	}

	blocked, retry := evaluateWindowThrottle(now, failures, 2, 5*time.Minute)
	if !blocked {
		t.Fatalf("expected window throttle to block")
	}
	if retry != 3*time.Minute {
		t.Fatalf("expected retry=3m, got %v", retry)
	}

	blocked, retry = evaluateWindowThrottle(now, failures, 3, 5*time.Minute)
	if blocked {
		t.Fatalf("expected window throttle to allow")
	}
	if retry != 0 {
		t.Fatalf("expected retry=0, got %v", retry)
	}
}

func TestEvaluateProgressiveLockout_ShortTier(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-30 * time.Second),
		now.Add(-1 * time.Minute),
		now.Add(-2 * time.Minute),
		now.Add(-3 * time.Minute),
		now.Add(-4 * time.Minute),
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 20, Duration: 2 * time.Hour},
		{Threshold: 10, Duration: 30 * time.Minute},
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	if !blocked {
		t.Fatalf("expected short-tier lockout")
	}
	if retry != 4*time.Minute+30*time.Second {
		t.Fatalf("unexpected retry duration: %v", retry)
	}
}

func TestEvaluateProgressiveLockout_ClearsAfterDuration(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := []time.Time{
		now.Add(-6 * time.Minute),
		now.Add(-7 * time.Minute),
		now.Add(-8 * time.Minute),
		now.Add(-9 * time.Minute),
		now.Add(-10 * time.Minute),
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	if blocked {
		t.Fatalf("expected lockout to clear, retry=%v", retry)
	}
	if retry != 0 {
		t.Fatalf("expected retry=0, got %v", retry)
	}
}

func TestEvaluateProgressiveLockout_SevereTierWins(t *testing.T) {
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	failures := make([]time.Time, 0, 20)
	for i := 0; i < 20; i++ {
		failures = append(failures, now.Add(-time.Duration(i+1)*time.Minute))
	}

	blocked, retry := evaluateProgressiveLockout(now, failures, []lockoutTier{
		{Threshold: 20, Duration: 2 * time.Hour},
		{Threshold: 10, Duration: 30 * time.Minute},
		{Threshold: 5, Duration: 5 * time.Minute},
	})
	if !blocked {
		t.Fatalf("expected severe-tier lockout")
	}

	want := failures[0].Add(2 * time.Hour).Sub(now)
	if retry != want {
		t.Fatalf("expected retry=%v, got %v", want, retry)
	}
}

func TestLoginThrottle_IPWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginIPMax = 3
	cfg.LoginIPWindow = time.Minute
	th := newLoginThrottle(cfg)

	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	ip := net.ParseIP("203.0.113.7")

	for i := 0; i < 3; i++ {
		if blocked, _ := th.check(now, ip, ""); blocked {
			t.Fatalf("attempt %d blocked too early", i)
		}
		th.fail(now, ip, "")
	}

	blocked, retry := th.check(now, ip, "")
	if !blocked || retry != time.Minute {
		t.Fatalf("expected block for 1m, got blocked=%v retry=%v", blocked, retry)
	}

	if blocked, _ := th.check(now, net.ParseIP("203.0.113.8"), ""); blocked {
		t.Fatalf("other IPs must not be affected")
	}
	if blocked, _ := th.check(now.Add(time.Minute+time.Second), ip, ""); blocked {
		t.Fatalf("expected block to clear after the window")
	}
}

func TestLoginThrottle_UserLockoutClearedBySuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginIPMax = 1000
	th := newLoginThrottle(cfg)

	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	for i := 0; i < cfg.LockoutShortThreshold; i++ {
		th.fail(now, nil, "alice")
	}

	blocked, retry := th.check(now, nil, "alice")
	if !blocked || retry != cfg.LockoutShortDuration {
		t.Fatalf("expected short lockout, got blocked=%v retry=%v", blocked, retry)
	}

	th.succeed("alice")
	if blocked, _ := th.check(now, nil, "alice"); blocked {
		t.Fatalf("expected success to clear username failures")
	}
}

func TestWriteRateLimited_RoundsRetryAfterUp(t *testing.T) {
	rr := httptest.NewRecorder()
	writeRateLimited(rr, 1500*time.Millisecond)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q, want 2", got)
	}
}
