package env

import (
	"strings"
	"testing"
)

func TestGetFallsBack(t *testing.T) {
	t.Setenv("MEDTRACK_TEST_VALUE", "  ")
	if got := Get("MEDTRACK_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("MEDTRACK_TEST_VALUE", "console")
	if got := Get("MEDTRACK_TEST_VALUE", "json"); got != "console" {
		t.Fatalf("expected console, got %q", got)
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("MEDTRACK_TEST_FLAG", "nope")
	if !GetBool("MEDTRACK_TEST_FLAG", true) {
		t.Fatalf("malformed value should return fallback")
	}
	t.Setenv("MEDTRACK_TEST_FLAG", "false")
	if GetBool("MEDTRACK_TEST_FLAG", true) {
		t.Fatalf("expected false")
	}
}

func TestInstanceID(t *testing.T) {
	t.Setenv("MEDTRACK_INSTANCE_ID", "comm-1")
	if got := InstanceID("comm"); got != "comm-1" {
		t.Fatalf("expected explicit id, got %q", got)
	}
	t.Setenv("MEDTRACK_INSTANCE_ID", "")
	if got := InstanceID("comm"); !strings.HasPrefix(got, "comm-") {
		t.Fatalf("expected service prefix, got %q", got)
	}
}
