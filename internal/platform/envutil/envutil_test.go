package envutil

import (
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"", 5 * time.Second},
		{"900", 900 * time.Second},
		{"30m", 30 * time.Minute},
		{"0", 0},
		{"garbage", 5 * time.Second},
	}
	for _, tc := range cases {
		t.Setenv("TEST_DURATION", tc.raw)
		if got := Duration("TEST_DURATION", 5*time.Second); got != tc.want {
			t.Fatalf("Duration(%q): want=%v got=%v", tc.raw, tc.want, got)
		}
	}
}

func TestBoolAndInt(t *testing.T) {
	t.Setenv("TEST_BOOL", "off")
	if Bool("TEST_BOOL", true) {
		t.Fatalf("Bool: want=false got=true")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if !Bool("TEST_BOOL", true) {
		t.Fatalf("Bool fallback: want=true got=false")
	}
	t.Setenv("TEST_INT", " 16 ")
	if got := Int("TEST_INT", 2); got != 16 {
		t.Fatalf("Int: want=16 got=%d", got)
	}
	t.Setenv("TEST_STRING", "  ")
	if got := String("TEST_STRING", "annoy-indexer"); got != "annoy-indexer" {
		t.Fatalf("String: want=annoy-indexer got=%q", got)
	}
}
