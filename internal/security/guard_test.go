package security

import (
	"net"
	"strings"
	"testing"
)

func TestGuard_ValidateURL(t *testing.T) {
	t.Parallel()

	g := NewGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
		errMsg  string // substring to check in error message
	}{
		// Valid public URLs
		{name: "https URL", url: "https://example.com/page", wantErr: false},
		{name: "http URL", url: "http://example.com/page", wantErr: false},
		{name: "URL with port", url: "https://example.com:8080/api", wantErr: false},

		// Invalid schemes
		{name: "ftp scheme", url: "ftp://example.com/file", wantErr: true, errMsg: "unsupported scheme"},
		{name: "file scheme", url: "file:///etc/passwd", wantErr: true, errMsg: "unsupported scheme"},
		{name: "javascript scheme", url: "javascript:alert(1)", wantErr: true, errMsg: "unsupported scheme"},

		// Blocked hostnames
		{name: "localhost", url: "http://localhost/admin", wantErr: true, errMsg: "blocked host"},
		{name: "localhost with port", url: "http://localhost:8080/admin", wantErr: true, errMsg: "blocked host"},
		{name: "gcp metadata host", url: "http://metadata.google.internal/computeMetadata/v1/", wantErr: true, errMsg: "blocked host"},

		// Loopback
		{name: "127.0.0.1", url: "http://127.0.0.1/admin", wantErr: true, errMsg: "loopback"},
		{name: "127.1.2.3", url: "http://127.1.2.3/", wantErr: true, errMsg: "loopback"},
		{name: "IPv6 loopback", url: "http://[::1]/admin", wantErr: true, errMsg: "loopback"},

		// Private ranges
		{name: "10.x", url: "http://10.0.0.1/internal", wantErr: true, errMsg: "private IP"},
		{name: "172.16.x", url: "http://172.16.0.1/internal", wantErr: true, errMsg: "private IP"},
		{name: "192.168.x", url: "http://192.168.1.1/router", wantErr: true, errMsg: "private IP"},

		// Link-local, including the cloud metadata endpoint
		{name: "aws metadata endpoint", url: "http://169.254.169.254/latest/meta-data/", wantErr: true, errMsg: "link-local"},
		{name: "link-local", url: "http://169.254.1.1/", wantErr: true, errMsg: "link-local"},

		// Edge cases
		{name: "empty URL", url: "", wantErr: true, errMsg: "unsupported scheme"},
		{name: "malformed URL", url: "://invalid", wantErr: true, errMsg: "invalid URL"},
		{name: "unspecified address", url: "http://0.0.0.0/", wantErr: true, errMsg: "unspecified"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := g.ValidateURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ValidateURL(%q) = nil, want error", tt.url)
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("ValidateURL(%q) error = %q, want substring %q", tt.url, err.Error(), tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("ValidateURL(%q) = %v, want nil", tt.url, err)
			}
		})
	}
}

func TestGuard_CheckIP(t *testing.T) {
	t.Parallel()

	g := NewGuard()

	tests := []struct {
		name    string
		ip      string
		wantErr bool
	}{
		{"public IPv4", "8.8.8.8", false},
		{"public IPv4 2", "1.1.1.1", false},
		{"private 10.x", "10.0.0.1", true},
		{"private 172.16.x", "172.16.0.1", true},
		{"private 192.168.x", "192.168.1.1", true},
		{"loopback", "127.0.0.1", true},
		{"loopback range end", "127.255.255.255", true},
		{"link-local", "169.254.1.1", true},
		{"cloud metadata", "169.254.169.254", true},
		{"mapped IPv4 loopback", "::ffff:127.0.0.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("parsing IP: %s", tt.ip)
			}
			err := g.checkIP(ip)
			if tt.wantErr && err == nil {
				t.Errorf("checkIP(%s) = nil, want error", tt.ip)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("checkIP(%s) = %v, want nil", tt.ip, err)
			}
		})
	}
}

// Dialing a blocked literal IP must fail before any connection attempt.
// This is the DNS-rebinding backstop: even when a hostname passed static
// validation, the dialer re-checks what it is about to connect to.
func TestGuard_SafeTransport_BlocksDial(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	transport := g.SafeTransport()
	if transport.DialContext == nil {
		t.Fatal("SafeTransport() DialContext is nil")
	}

	tests := []struct {
		name    string
		addr    string
		wantSub string
	}{
		{name: "loopback", addr: "127.0.0.1:80", wantSub: "loopback"},
		{name: "private 10.x", addr: "10.0.0.1:80", wantSub: "private"},
		{name: "private 192.168.x", addr: "192.168.1.1:80", wantSub: "private"},
		{name: "link-local metadata", addr: "169.254.169.254:80", wantSub: "link-local"},
		{name: "IPv6 loopback", addr: "[::1]:80", wantSub: "loopback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := transport.DialContext(t.Context(), "tcp", tt.addr)
			if err == nil {
				t.Fatalf("DialContext(%q) = nil, want error", tt.addr)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("DialContext(%q) error = %q, want substring %q", tt.addr, err.Error(), tt.wantSub)
			}
		})
	}
}

func FuzzGuard_ValidateURL(f *testing.F) {
	f.Add("https://example.com")
	f.Add("http://127.0.0.1:8080/x")
	f.Add("file:///etc/passwd")
	f.Add("")
	f.Add("://invalid")
	f.Add("http://[::1]/")

	g := NewGuard()
	f.Fuzz(func(t *testing.T, rawURL string) {
		_ = g.ValidateURL(rawURL) // must not panic
	})
}
