package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"yes", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"off", true, false},
		{" true ", false, true},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, c := range cases {
		key := "SMS_TEST_BOOL"
		if c.value == "" {
			t.Setenv(key, "")
		} else {
			t.Setenv(key, c.value)
		}
		if got := ParseBoolEnv(key, c.def); got != c.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", c.value, c.def, got, c.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	key := "SMS_TEST_INT"

	t.Setenv(key, "42")
	if got := ParseIntEnv(key, 7); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
	t.Setenv(key, "not-a-number")
	if got := ParseIntEnv(key, 7); got != 7 {
		t.Errorf("invalid value: got %d, want default 7", got)
	}
	t.Setenv(key, "-3")
	if got := ParseIntEnv(key, 7); got != 7 {
		t.Errorf("negative value: got %d, want default 7", got)
	}
	t.Setenv(key, "")
	if got := ParseIntEnv(key, 7); got != 7 {
		t.Errorf("unset: got %d, want default 7", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	key := "SMS_TEST_DURATION"

	t.Setenv(key, "30s")
	if got := ParseDurationEnv(key, time.Minute); got != 30*time.Second {
		t.Errorf("got %v, want 30s", got)
	}
	t.Setenv(key, "bogus")
	if got := ParseDurationEnv(key, time.Minute); got != time.Minute {
		t.Errorf("invalid value: got %v, want default 1m", got)
	}
	t.Setenv(key, "-5m")
	if got := ParseDurationEnv(key, time.Minute); got != time.Minute {
		t.Errorf("negative value: got %v, want default 1m", got)
	}
}
