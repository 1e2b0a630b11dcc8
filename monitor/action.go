package monitor

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/qreshi/opensearch-alerting/wire"
)

// Action is a configured notification: templates plus a destination, with an
// optional throttle. Immutable once parsed; referenced by ID from alert
// execution records.
type Action struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DestinationID   string    `json:"destination_id"`
	SubjectTemplate *Script   `json:"subject_template,omitempty"`
	MessageTemplate Script    `json:"message_template"`
	ThrottleEnabled bool      `json:"throttle_enabled"`
	Throttle        *Throttle `json:"throttle,omitempty"`
}

// NewAction validates and constructs an Action, generating a fresh ID when
// none is given.
func NewAction(a Action, ids IDGenerator) (Action, error) {
	if a.ID == "" {
		a.ID = ids.ID()
	}
	if err := a.Validate(); err != nil {
		return Action{}, err
	}
	return a, nil
}

// Validate checks the semantic invariants of an action definition. It runs
// identically for freshly supplied and reconstituted records; there is no
// trusted source path.
func (a Action) Validate() error {
	if a.Name == "" {
		return invalidConfigf("action name must not be empty")
	}
	if a.DestinationID == "" {
		return invalidConfigf("action destination id must not be empty")
	}
	if a.SubjectTemplate != nil {
		if err := a.SubjectTemplate.validateTemplate(); err != nil {
			return err
		}
	}
	if err := a.MessageTemplate.validateTemplate(); err != nil {
		return err
	}
	if a.ThrottleEnabled {
		if a.Throttle == nil {
			return invalidConfigf("throttle enabled but not configured")
		}
		if err := a.Throttle.Validate(); err != nil {
			return err
		}
	} else if a.Throttle != nil {
		if err := a.Throttle.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseAction decodes and validates a JSON action record.
// Unknown top-level fields are rejected. A missing ID gets a fresh one.
func ParseAction(data []byte, ids IDGenerator) (Action, error) {
	var a Action
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&a); err != nil {
		return Action{}, parseErr("action", err)
	}
	// A second document in the stream is as malformed as an unknown field.
	if err := ensureEOF(dec); err != nil {
		return Action{}, parseErr("action", err)
	}
	a, err := NewAction(a, ids)
	if err != nil {
		return Action{}, parseErr("action", err)
	}
	return a, nil
}

func ensureEOF(dec *json.Decoder) error {
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

// WriteTo encodes the action in the persisted wire layout:
// [name][destinationId][hasSubject][subject?][message][throttleEnabled]
// [hasThrottle][throttle?][id]. The field order and bool-then-value
// presence flags are the compatibility contract for persisted data.
func (a Action) WriteTo(w *wire.Writer) {
	w.WriteString(a.Name)
	w.WriteString(a.DestinationID)
	w.WriteBool(a.SubjectTemplate != nil)
	if a.SubjectTemplate != nil {
		a.SubjectTemplate.writeTo(w)
	}
	a.MessageTemplate.writeTo(w)
	w.WriteBool(a.ThrottleEnabled)
	w.WriteBool(a.Throttle != nil)
	if a.Throttle != nil {
		a.Throttle.writeTo(w)
	}
	w.WriteString(a.ID)
}

// EncodeAction returns the binary wire form of the action.
func EncodeAction(a Action) []byte {
	var w wire.Writer
	a.WriteTo(&w)
	return w.Bytes()
}

// ReadAction decodes an action from its binary wire form and validates it
// with the same rules as ParseAction.
func ReadAction(r *wire.Reader) (Action, error) {
	a, err := readAction(r)
	if err != nil {
		return Action{}, parseErr("action", err)
	}
	if err := a.Validate(); err != nil {
		return Action{}, parseErr("action", err)
	}
	return a, nil
}

func readAction(r *wire.Reader) (Action, error) {
	var a Action
	var err error
	if a.Name, err = r.ReadString(); err != nil {
		return Action{}, err
	}
	if a.DestinationID, err = r.ReadString(); err != nil {
		return Action{}, err
	}
	hasSubject, err := r.ReadBool()
	if err != nil {
		return Action{}, err
	}
	if hasSubject {
		s, err := readScript(r)
		if err != nil {
			return Action{}, err
		}
		a.SubjectTemplate = &s
	}
	if a.MessageTemplate, err = readScript(r); err != nil {
		return Action{}, err
	}
	if a.ThrottleEnabled, err = r.ReadBool(); err != nil {
		return Action{}, err
	}
	hasThrottle, err := r.ReadBool()
	if err != nil {
		return Action{}, err
	}
	if hasThrottle {
		t, err := readThrottle(r)
		if err != nil {
			return Action{}, err
		}
		a.Throttle = &t
	}
	if a.ID, err = r.ReadString(); err != nil {
		return Action{}, err
	}
	return a, nil
}
