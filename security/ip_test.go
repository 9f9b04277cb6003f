package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xff               string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "remote addr only",
			remoteAddr: "203.0.113.7:41234",
			want:       "203.0.113.7",
		},
		{
			name:       "forwarding headers ignored without trust",
			remoteAddr: "203.0.113.7:41234",
			xff:        "198.51.100.1",
			want:       "203.0.113.7",
		},
		{
			name:       "single proxy",
			remoteAddr: "10.0.0.1:443",
			xff:        "198.51.100.1, 10.0.0.1",
			trustProxy: true,
			want:       "198.51.100.1",
		},
		{
			name:              "two trusted proxies",
			remoteAddr:        "10.0.0.1:443",
			xff:               "198.51.100.1, 10.0.0.2, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "198.51.100.1",
		},
		{
			name:       "short chain clamps to first entry",
			remoteAddr: "10.0.0.1:443",
			xff:        "198.51.100.1",
			trustProxy: true,
			want:       "198.51.100.1",
		},
		{
			name:       "garbage xff falls back to real ip",
			remoteAddr: "10.0.0.1:443",
			xff:        "not-an-ip, also-not",
			xRealIP:    "198.51.100.1",
			trustProxy: true,
			want:       "198.51.100.1",
		},
		{
			name:       "garbage everywhere falls back to remote addr",
			remoteAddr: "10.0.0.1:443",
			xff:        "not-an-ip",
			xRealIP:    "also-not",
			trustProxy: true,
			want:       "10.0.0.1",
		},
		{
			name:       "ipv6 remote addr",
			remoteAddr: "[2001:db8::1]:41234",
			want:       "2001:db8::1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-Ip", tt.xRealIP)
			}
			got := GetClientIP(r, tt.trustProxy, tt.trustedProxyCount)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
