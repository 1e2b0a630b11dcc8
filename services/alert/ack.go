package alert

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/qreshi/opensearch-alerting/alert"
	"github.com/qreshi/opensearch-alerting/wire"
)

// RefreshPolicy is how visible an acknowledgment write must be before the
// request returns. The local storage backend commits durably on every
// write, so the policy is accepted for API compatibility and otherwise
// carries no weight here.
type RefreshPolicy int

const (
	RefreshNone RefreshPolicy = iota
	RefreshImmediate
	RefreshWaitUntil
	maxRefreshPolicy
)

const refreshStrings = "NONEIMMEDIATEWAIT_UNTIL"

var refreshBytes = []byte(refreshStrings)

var refreshOffsets = []int{0, 4, 13, 23}

func (p RefreshPolicy) String() string {
	if p >= 0 && p < maxRefreshPolicy {
		return refreshStrings[refreshOffsets[p]:refreshOffsets[p+1]]
	}
	return "unknown"
}

func (p RefreshPolicy) MarshalText() ([]byte, error) {
	if p < 0 || p >= maxRefreshPolicy {
		return nil, fmt.Errorf("unknown refresh policy %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *RefreshPolicy) UnmarshalText(text []byte) error {
	idx := bytes.Index(refreshBytes, text)
	if idx >= 0 && len(text) > 0 {
		for i := 0; i < int(maxRefreshPolicy); i++ {
			if idx == refreshOffsets[i] && len(text) == refreshOffsets[i+1]-refreshOffsets[i] {
				*p = RefreshPolicy(i)
				return nil
			}
		}
	}
	return fmt.Errorf("unknown refresh policy '%s'", text)
}

func ParseRefreshPolicy(s string) (p RefreshPolicy, err error) {
	err = p.UnmarshalText([]byte(strings.ToUpper(s)))
	return
}

// AcknowledgeRequest asks to acknowledge a batch of alerts under one
// monitor. Ids that cannot be acknowledged are reported individually; the
// batch never aborts as a whole.
type AcknowledgeRequest struct {
	MonitorID string        `json:"monitor_id"`
	AlertIDs  []string      `json:"alert_ids"`
	Refresh   RefreshPolicy `json:"refresh_policy"`
}

// WriteTo encodes the request in its wire layout:
// [monitorId][alertIds as length-prefixed string list][refreshPolicy].
func (r AcknowledgeRequest) WriteTo(w *wire.Writer) {
	w.WriteString(r.MonitorID)
	w.WriteStringList(r.AlertIDs)
	w.WriteString(r.Refresh.String())
}

// EncodeAcknowledgeRequest returns the binary wire form of the request.
func EncodeAcknowledgeRequest(r AcknowledgeRequest) []byte {
	var w wire.Writer
	r.WriteTo(&w)
	return w.Bytes()
}

// ReadAcknowledgeRequest decodes a request from its binary wire form.
func ReadAcknowledgeRequest(r *wire.Reader) (AcknowledgeRequest, error) {
	var req AcknowledgeRequest
	var err error
	if req.MonitorID, err = r.ReadString(); err != nil {
		return AcknowledgeRequest{}, err
	}
	if req.AlertIDs, err = r.ReadStringList(); err != nil {
		return AcknowledgeRequest{}, err
	}
	policy, err := r.ReadString()
	if err != nil {
		return AcknowledgeRequest{}, err
	}
	if req.Refresh, err = ParseRefreshPolicy(policy); err != nil {
		return AcknowledgeRequest{}, err
	}
	return req, nil
}

// AcknowledgeResponse reports the outcome of an acknowledge batch per
// alert id.
type AcknowledgeResponse struct {
	// Acknowledged holds alerts now in ACKNOWLEDGED state, including
	// duplicates that were already acknowledged (a no-op success).
	Acknowledged []alert.Alert `json:"acknowledged"`
	// NotAcknowledged holds alerts whose state refused the transition.
	NotAcknowledged []alert.Alert `json:"not_acknowledged"`
	// Missing lists ids with no alert under the monitor.
	Missing []string `json:"missing"`
}
