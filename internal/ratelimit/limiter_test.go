package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// mockClock is a controllable clock for testing.
type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAllow_BurstThenRefill(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{PerMinute: 60, Burst: 3, Clock: clock})
	defer limiter.Close()

	ip := "203.0.113.10"
	for i := 0; i < 3; i++ {
		if result := limiter.Allow("login", ip); !result.Allowed {
			t.Fatalf("request %d should be allowed within burst, got %s", i+1, result.Reason)
		}
	}

	result := limiter.Allow("login", ip)
	if result.Allowed {
		t.Fatal("request over burst should be blocked")
	}
	if result.Reason != "ip_rate_limit" {
		t.Errorf("Expected reason 'ip_rate_limit', got '%s'", result.Reason)
	}
	if result.RetryAfter <= 0 || result.RetryAfter > time.Second {
		t.Errorf("Expected retry within a second, got %v", result.RetryAfter)
	}

	// One token per second at 60/minute
	clock.Advance(time.Second)
	if result := limiter.Allow("login", ip); !result.Allowed {
		t.Fatalf("request after refill should be allowed, got %s", result.Reason)
	}
}

func TestAllow_BlockedRequestsDoNotConsume(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{PerMinute: 60, Burst: 1, Clock: clock})
	defer limiter.Close()

	limiter.Allow("login", "203.0.113.10")
	for i := 0; i < 5; i++ {
		limiter.Allow("login", "203.0.113.10")
	}

	clock.Advance(time.Second)
	if result := limiter.Allow("login", "203.0.113.10"); !result.Allowed {
		t.Fatal("rejected requests should not push the next token further out")
	}
}

func TestAllow_SeparateKeys(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{PerMinute: 1, Burst: 1, Clock: clock})
	defer limiter.Close()

	if !limiter.Allow("login", "203.0.113.10").Allowed {
		t.Fatal("first request should be allowed")
	}
	if limiter.Allow("login", "203.0.113.10").Allowed {
		t.Fatal("second request from same IP should be blocked")
	}
	if !limiter.Allow("login", "203.0.113.11").Allowed {
		t.Fatal("other IP should have its own bucket")
	}
	if !limiter.Allow("callback", "203.0.113.10").Allowed {
		t.Fatal("other route should have its own bucket")
	}
}

func TestCleanupDropsIdleBuckets(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{PerMinute: 10, Burst: 1, IdleTTL: time.Minute, Clock: clock})
	defer limiter.Close()

	limiter.Allow("login", "203.0.113.10")
	clock.Advance(30 * time.Second)
	limiter.Allow("login", "203.0.113.11")
	clock.Advance(45 * time.Second)

	limiter.cleanup()
	if got := limiter.size(); got != 1 {
		t.Fatalf("expected one live bucket after cleanup, got %d", got)
	}
}

func TestMiddleware_Returns429(t *testing.T) {
	clock := newMockClock()
	limiter := New(&Config{PerMinute: 1, Burst: 1, Clock: clock})
	defer limiter.Close()

	handler := limiter.Middleware("login", false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/login", nil)
		req.RemoteAddr = "203.0.113.10:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", rec.Code)
	}
	rec := send()
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PerMinute != 30 {
		t.Errorf("PerMinute = %d, want 30", cfg.PerMinute)
	}
	if cfg.Burst != 10 {
		t.Errorf("Burst = %d, want 10", cfg.Burst)
	}
	if cfg.IdleTTL != 10*time.Minute {
		t.Errorf("IdleTTL = %v, want 10m", cfg.IdleTTL)
	}
}

func TestNew_NilConfig(t *testing.T) {
	limiter := New(nil)
	defer limiter.Close()

	if result := limiter.Allow("login", "192.168.1.1"); !result.Allowed {
		t.Error("First request with nil config should be allowed")
	}
}

func TestLimiter_Close(t *testing.T) {
	limiter := New(nil)
	limiter.Allow("login", "192.168.1.1") // starts cleanup goroutine

	done := make(chan struct{})
	go func() {
		limiter.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() should stop the cleanup goroutine promptly")
	}
}

func TestConcurrentAccess(t *testing.T) {
	limiter := New(&Config{PerMinute: 6000, Burst: 100})
	defer limiter.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ip := fmt.Sprintf("203.0.113.%d", n%5)
			for j := 0; j < 20; j++ {
				limiter.Allow("login", ip)
			}
		}(i)
	}

	wg.Wait()
	// If we get here without race detector complaints, test passes
}

func TestGetClientIP_TrustProxy(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		trustProxy bool
		expected   string
	}{
		{
			name:       "TrustProxy=true, XFF rightmost public IP",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50, 10.0.0.1"},
			remoteAddr: "10.0.0.1:12345",
			trustProxy: true,
			expected:   "203.0.113.50", // Rightmost non-private
		},
		{
			name:       "TrustProxy=true, XFF all private",
			headers:    map[string]string{"X-Forwarded-For": "192.168.1.1, 10.0.0.1"},
			remoteAddr: "10.0.0.1:12345",
			trustProxy: true,
			expected:   "10.0.0.1", // Last one when all private
		},
		{
			name:       "TrustProxy=true, X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.51"},
			remoteAddr: "10.0.0.1:12345",
			trustProxy: true,
			expected:   "203.0.113.51",
		},
		{
			name:       "TrustProxy=false, ignores XFF",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.50"},
			remoteAddr: "192.168.1.100:54321",
			trustProxy: false,
			expected:   "192.168.1.100", // Uses RemoteAddr, ignores spoofed XFF
		},
		{
			name:       "TrustProxy=false, ignores X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.51"},
			remoteAddr: "192.168.1.100:54321",
			trustProxy: false,
			expected:   "192.168.1.100",
		},
		{
			name:       "No headers, RemoteAddr only",
			headers:    map[string]string{},
			remoteAddr: "192.168.1.100:54321",
			trustProxy: true,
			expected:   "192.168.1.100",
		},
		{
			name:       "RemoteAddr without port",
			headers:    map[string]string{},
			remoteAddr: "192.168.1.100",
			trustProxy: false,
			expected:   "192.168.1.100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			got := GetClientIP(r, tt.trustProxy)
			if got != tt.expected {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetClientIP_SpoofingPrevention(t *testing.T) {
	// Attacker sends fake X-Forwarded-For header
	r, _ := http.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "1.2.3.4") // Attacker-supplied
	r.RemoteAddr = "192.168.1.100:54321"       // Real connection

	// With TrustProxy=false, the fake header is ignored
	got := GetClientIP(r, false)
	if got != "192.168.1.100" {
		t.Errorf("Should ignore X-Forwarded-For when TrustProxy=false, got %q", got)
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip       string
		expected bool
	}{
		// IPv4 private ranges
		{"10.0.0.1", true},
		{"10.255.255.255", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.1.1", true},
		{"192.168.255.255", true},
		{"127.0.0.1", true},
		// IPv6 private/reserved
		{"::1", true},
		{"fc00::1", true},
		{"fe80::1", true}, // Link-local
		// IPv4-mapped IPv6 addresses (must match their IPv4 equivalents)
		{"::ffff:10.0.0.1", true},
		{"::ffff:192.168.1.1", true},
		{"::ffff:172.16.0.1", true},
		{"::ffff:127.0.0.1", true},
		{"::ffff:8.8.8.8", false},   // Public IP in IPv4-mapped format
		{"::ffff:1.1.1.1", false},   // Public IP in IPv4-mapped format
		// Public IPs
		{"203.0.113.50", false},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"2001:4860:4860::8888", false}, // Google DNS IPv6
		// Invalid
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			got := isPrivateIP(tt.ip)
			if got != tt.expected {
				t.Errorf("isPrivateIP(%q) = %v, want %v", tt.ip, got, tt.expected)
			}
		})
	}
}

