package middleware

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

type validatorFunc func(key string) (bool, error)

func (f validatorFunc) Validate(key string) (bool, error) {
	return f(key)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestKeyFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		target string
		want   string
	}{
		{"header", map[string]string{"X-API-Key": "abc"}, "/", "abc"},
		{"bearer", map[string]string{"Authorization": "Bearer abc"}, "/", "abc"},
		{"basic ignored", map[string]string{"Authorization": "Basic abc"}, "/", ""},
		{"query", nil, "/?api_key=abc", "abc"},
		{"header wins", map[string]string{"X-API-Key": "one", "Authorization": "Bearer two"}, "/", "one"},
		{"none", nil, "/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := KeyFromRequest(r); got != tt.want {
				t.Errorf("KeyFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIKey(t *testing.T) {
	tests := []struct {
		name      string
		validator validatorFunc
		status    int
	}{
		{"valid", func(string) (bool, error) { return true, nil }, http.StatusOK},
		{"invalid", func(string) (bool, error) { return false, nil }, http.StatusUnauthorized},
		{"store error", func(string) (bool, error) { return false, errors.New("db gone") }, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			APIKey(tt.validator)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestAllowSubnet(t *testing.T) {
	_, loopback, _ := net.ParseCIDR("127.0.0.0/8")

	tests := []struct {
		name    string
		allowed *net.IPNet
		remote  string
		status  int
	}{
		{"no restriction", nil, "203.0.113.5:1234", http.StatusOK},
		{"inside", loopback, "127.0.0.1:1234", http.StatusOK},
		{"outside", loopback, "203.0.113.5:1234", http.StatusForbidden},
		{"bare ip", loopback, "127.0.0.1", http.StatusOK},
		{"garbage", loopback, "not-an-ip", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			rec := httptest.NewRecorder()
			AllowSubnet(tt.allowed)(okHandler()).ServeHTTP(rec, r)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}
