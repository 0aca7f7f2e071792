package utils

import (
	"net"
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"héllo", 2, "h..."},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestJitterStaysInRange(t *testing.T) {
	d := time.Second
	if got := Jitter(d, 0); got != d {
		t.Fatalf("Jitter with zero fraction = %s", got)
	}
	for i := 0; i < 200; i++ {
		got := Jitter(d, 0.2)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("Jitter(1s, 0.2) = %s, out of range", got)
		}
	}
}

func TestIsPrivateIP(t *testing.T) {
	for _, s := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.1", "169.254.169.254", "::1", "0.0.0.0"} {
		if !IsPrivateIP(net.ParseIP(s)) {
			t.Errorf("%s should be private", s)
		}
	}
	if IsPrivateIP(net.ParseIP("93.184.216.34")) {
		t.Error("public address reported private")
	}
	if !IsPrivateHost("localhost") {
		t.Error("localhost should be private")
	}
}
