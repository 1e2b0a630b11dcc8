package monitor

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/qreshi/opensearch-alerting/wire"
)

// ThrottleUnit is the unit of a throttle cooldown window.
// Only minutes are recognized today; the enum leaves room for more.
type ThrottleUnit int

const (
	Minutes ThrottleUnit = iota
	maxThrottleUnit
)

const unitStrings = "MINUTES"

var unitBytes = []byte(unitStrings)

var unitOffsets = []int{0, 7}

func (u ThrottleUnit) String() string {
	if u >= 0 && u < maxThrottleUnit {
		return unitStrings[unitOffsets[u]:unitOffsets[u+1]]
	}
	return "unknown"
}

func (u ThrottleUnit) MarshalText() ([]byte, error) {
	if u < 0 || u >= maxThrottleUnit {
		return nil, fmt.Errorf("unknown throttle unit %d", int(u))
	}
	return []byte(u.String()), nil
}

func (u *ThrottleUnit) UnmarshalText(text []byte) error {
	idx := bytes.Index(unitBytes, text)
	if idx >= 0 && len(text) > 0 {
		for i := 0; i < int(maxThrottleUnit); i++ {
			if idx == unitOffsets[i] && len(text) == unitOffsets[i+1]-unitOffsets[i] {
				*u = ThrottleUnit(i)
				return nil
			}
		}
	}
	return fmt.Errorf("unknown throttle unit '%s'", text)
}

func ParseThrottleUnit(s string) (u ThrottleUnit, err error) {
	err = u.UnmarshalText([]byte(strings.ToUpper(s)))
	return
}

func (u ThrottleUnit) duration() time.Duration {
	switch u {
	case Minutes:
		return time.Minute
	default:
		return 0
	}
}

// Throttle is a cooldown window preventing an action from re-firing too
// frequently. Immutable once constructed.
type Throttle struct {
	Value int          `json:"value"`
	Unit  ThrottleUnit `json:"unit"`
}

// NewThrottle validates and constructs a Throttle.
// An invalid Throttle value never exists in memory.
func NewThrottle(value int, unit ThrottleUnit) (Throttle, error) {
	t := Throttle{Value: value, Unit: unit}
	if err := t.Validate(); err != nil {
		return Throttle{}, err
	}
	return t, nil
}

func (t Throttle) Validate() error {
	if t.Value <= 0 {
		return invalidConfigf("throttle value must be positive, got %d", t.Value)
	}
	if t.Unit < 0 || t.Unit >= maxThrottleUnit {
		return invalidConfigf("unknown throttle unit %d", int(t.Unit))
	}
	return nil
}

// Duration returns the cooldown window length.
func (t Throttle) Duration() time.Duration {
	return time.Duration(t.Value) * t.Unit.duration()
}

// ShouldThrottle reports whether an action that last executed at last must
// be suppressed at now. An action that never executed is never throttled.
func (t Throttle) ShouldThrottle(last *time.Time, now time.Time) bool {
	if last == nil {
		return false
	}
	return now.Sub(*last) < t.Duration()
}

func (t Throttle) writeTo(w *wire.Writer) {
	w.WriteUvarint(uint64(t.Value))
	w.WriteString(t.Unit.String())
}

func readThrottle(r *wire.Reader) (Throttle, error) {
	v, err := r.ReadUvarint()
	if err != nil {
		return Throttle{}, err
	}
	us, err := r.ReadString()
	if err != nil {
		return Throttle{}, err
	}
	unit, err := ParseThrottleUnit(us)
	if err != nil {
		return Throttle{}, err
	}
	return NewThrottle(int(v), unit)
}
