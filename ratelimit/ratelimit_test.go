package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllow_EnforcesRate(t *testing.T) {
	rl := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("4th request should be denied")
	}
}

func TestAllow_PerIP(t *testing.T) {
	rl := New(1, time.Minute)
	if !rl.Allow("1.2.3.4") {
		t.Fatal("first IP should be allowed")
	}
	if !rl.Allow("5.6.7.8") {
		t.Fatal("different IP has its own bucket")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("first IP should now be denied")
	}
}

func TestAllow_WindowReset(t *testing.T) {
	rl := New(1, 50*time.Millisecond)
	if !rl.Allow("1.2.3.4") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("second request in window should be denied")
	}
	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("1.2.3.4") {
		t.Fatal("request after window reset should be allowed")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		forwarded  string
		want       string
	}{
		{"direct connection", "203.0.113.9:51234", "", "", "203.0.113.9"},
		{"spoofed header from untrusted source", "203.0.113.9:51234", "10.0.0.1", "", "203.0.113.9"},
		{"real-ip from loopback proxy", "127.0.0.1:8080", "203.0.113.9", "", "203.0.113.9"},
		{"forwarded-for from docker proxy", "172.17.0.2:9000", "", "203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"no port", "203.0.113.9", "", "", "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMiddleware_Returns429(t *testing.T) {
	rl := New(1, time.Minute)
	handler := Middleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(204)
	}))

	req := httptest.NewRequest("POST", "/api/analyze", nil)
	req.RemoteAddr = "203.0.113.9:51234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 204 {
		t.Fatalf("first request = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != 429 {
		t.Fatalf("second request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}
