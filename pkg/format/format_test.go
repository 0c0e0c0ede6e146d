package format

import (
	"testing"
	"time"
)

func TestBytes(t *testing.T) {
	cases := []struct {
		in   uint64
		want string
	}{
		{512, "512 B"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
	}
	for _, c := range cases {
		if got := Bytes(c.in); got != c.want {
			t.Errorf("Bytes(%d) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Minute, "2h5m0s"},
	}
	for _, c := range cases {
		if got := Duration(c.in); got != c.want {
			t.Errorf("Duration(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestLatency(t *testing.T) {
	if got := Latency(0); got != "0ms" {
		t.Errorf("Latency(0) = %s", got)
	}
	if got := Latency(250); got != "250ms" {
		t.Errorf("Latency(250) = %s", got)
	}
	if got := Latency(1500); got != "1.5s" {
		t.Errorf("Latency(1500) = %s", got)
	}
}
