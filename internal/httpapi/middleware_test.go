package httpapi

import (
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestLimiterPoolSweepsIdleKeys(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	pool := &limiterPool{rps: 1, burst: 1, now: clock.now}

	pool.Allow("addr:a")
	pool.Allow("addr:b")
	clock.t = clock.t.Add(5 * time.Minute)
	pool.Allow("addr:b")
	if n := pool.size(); n != 2 {
		t.Fatalf("limiters before sweep: got %d", n)
	}

	clock.t = clock.t.Add(6 * time.Minute)
	pool.Allow("addr:c")
	if n := pool.size(); n != 2 {
		t.Fatalf("limiters after sweep: got %d", n)
	}
	pool.mu.Lock()
	_, kept := pool.m["addr:a"]
	pool.mu.Unlock()
	if kept {
		t.Fatalf("idle limiter should have been swept")
	}
}

func TestLimiterPoolKeepsThrottledKeys(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	pool := &limiterPool{rps: 0.001, burst: 1, now: clock.now}

	if !pool.Allow("addr:a") {
		t.Fatalf("first request should pass")
	}
	clock.t = clock.t.Add(limiterIdle + time.Minute)
	pool.Allow("addr:b")
	if n := pool.size(); n != 2 {
		t.Fatalf("an exhausted limiter must survive the sweep, got %d limiters", n)
	}
	if pool.Allow("addr:a") {
		t.Fatalf("throttled key should still be limited")
	}
}

func TestRemoteHost(t *testing.T) {
	for addr, want := range map[string]string{
		"192.0.2.1:1234": "192.0.2.1",
		"[::1]:8080":     "::1",
		"pipe":           "pipe",
	} {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = addr
		if got := remoteHost(r); got != want {
			t.Fatalf("remoteHost(%q): got %q want %q", addr, got, want)
		}
	}
}
