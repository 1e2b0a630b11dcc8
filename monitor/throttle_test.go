package monitor

import (
	"testing"
	"time"
)

func TestNewThrottle_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		value   int
		unit    ThrottleUnit
		wantErr bool
	}{
		{name: "valid", value: 5, unit: Minutes},
		{name: "zero value", value: 0, unit: Minutes, wantErr: true},
		{name: "negative value", value: -10, unit: Minutes, wantErr: true},
		{name: "unknown unit", value: 5, unit: maxThrottleUnit, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewThrottle(tc.value, tc.unit)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if _, ok := err.(*InvalidConfigError); !ok {
					t.Fatalf("expected InvalidConfigError, got %T: %v", err, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestThrottle_ShouldThrottle(t *testing.T) {
	now := time.Date(2021, 9, 15, 12, 0, 0, 0, time.UTC)
	minuteAgo := now.Add(-time.Minute)
	sixtyOneSecondsAgo := now.Add(-61 * time.Second)

	testCases := []struct {
		name string
		t    Throttle
		last *time.Time
		want bool
	}{
		{
			name: "never executed",
			t:    Throttle{Value: 5, Unit: Minutes},
			last: nil,
			want: false,
		},
		{
			name: "within window",
			t:    Throttle{Value: 5, Unit: Minutes},
			last: &minuteAgo,
			want: true,
		},
		{
			name: "window expired",
			t:    Throttle{Value: 1, Unit: Minutes},
			last: &sixtyOneSecondsAgo,
			want: false,
		},
		{
			name: "exactly at window boundary",
			t:    Throttle{Value: 1, Unit: Minutes},
			last: &minuteAgo,
			want: false,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.t.ShouldThrottle(tc.last, now); got != tc.want {
				t.Errorf("ShouldThrottle = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestThrottleUnit_Text(t *testing.T) {
	u, err := ParseThrottleUnit("minutes")
	if err != nil {
		t.Fatal(err)
	}
	if u != Minutes {
		t.Errorf("got %v, want Minutes", u)
	}
	if u.String() != "MINUTES" {
		t.Errorf("got %q, want MINUTES", u.String())
	}
	if _, err := ParseThrottleUnit("HOURS"); err == nil {
		t.Error("expected error for unrecognized unit")
	}
	// Prefixes of a valid unit name are not valid units.
	for _, in := range []string{"M", "MIN", "MINUTE", "INUTES", ""} {
		if _, err := ParseThrottleUnit(in); err == nil {
			t.Errorf("ParseThrottleUnit(%q): expected error", in)
		}
	}
}
