package alert

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/pkg/errors"
	"github.com/qreshi/opensearch-alerting/alert"
	"github.com/qreshi/opensearch-alerting/services/storage"
)

var ErrNoAlertExists = errors.New("no alert exists")

// Data access object for Alert records.
//
// Every write names the storage version it read; a concurrent writer is
// detected as storage.ErrVersionConflict and the caller retries with a
// fresh snapshot. This is the external serialization mechanism that keeps
// evaluation cycles and user acknowledgments from losing each other's
// updates.
type AlertDAO interface {
	// Get retrieves one alert and its storage version.
	// ErrNoAlertExists is returned if it does not exist.
	Get(monitorID, alertID string) (alert.Alert, int64, error)

	// Active returns the single non-terminal alert for a trigger, or
	// ErrNoAlertExists.
	Active(monitorID, triggerID string) (alert.Alert, int64, error)

	// List returns all alerts under a monitor.
	List(monitorID string) ([]VersionedAlert, error)

	// Put writes an alert. expectedVersion is the version returned by the
	// read this write is based on, or storage.NewVersion for a new alert.
	Put(a alert.Alert, expectedVersion int64) (int64, error)

	// Delete removes an alert record entirely. Retention keeps tombstoned
	// DELETED alerts around; Delete is for purging them afterwards.
	Delete(monitorID, alertID string) error
}

// VersionedAlert pairs an alert snapshot with its storage version.
type VersionedAlert struct {
	Alert   alert.Alert
	Version int64
}

//--------------------------------------------------------------------
// Alert records are persisted as version-wrapped JSON. The wrapper version
// belongs to the storage schema, not to the alert's optimistic-concurrency
// version; bumping it is how future schema migrations stay decodable.

const alertRecordVersion1 = 1

func marshalAlert(a alert.Alert) ([]byte, error) {
	return storage.VersionJSONEncode(alertRecordVersion1, a)
}

func unmarshalAlert(data []byte) (alert.Alert, error) {
	var a alert.Alert
	err := storage.VersionJSONDecode(data, func(version int, dec *json.Decoder) error {
		switch version {
		case alertRecordVersion1:
			return dec.Decode(&a)
		default:
			return fmt.Errorf("unknown alert record version %d: cannot decode", version)
		}
	})
	return a, err
}

func alertKey(monitorID, alertID string) string {
	return path.Join(monitorID, alertID)
}

// Key/Value store based implementation of AlertDAO.
type alertKV struct {
	store *storage.VersionedStore
}

func newAlertKV(store *storage.VersionedStore) *alertKV {
	return &alertKV{store: store}
}

func (kv *alertKV) Get(monitorID, alertID string) (alert.Alert, int64, error) {
	data, version, err := kv.store.Get(alertKey(monitorID, alertID))
	if err == storage.ErrNoKeyExists {
		return alert.Alert{}, 0, ErrNoAlertExists
	} else if err != nil {
		return alert.Alert{}, 0, err
	}
	a, err := unmarshalAlert(data)
	if err != nil {
		return alert.Alert{}, 0, err
	}
	return a, version, nil
}

func (kv *alertKV) Active(monitorID, triggerID string) (alert.Alert, int64, error) {
	alerts, err := kv.List(monitorID)
	if err != nil {
		return alert.Alert{}, 0, err
	}
	for _, va := range alerts {
		if va.Alert.TriggerID == triggerID && !va.Alert.State.Terminal() {
			return va.Alert, va.Version, nil
		}
	}
	return alert.Alert{}, 0, ErrNoAlertExists
}

func (kv *alertKV) List(monitorID string) ([]VersionedAlert, error) {
	vkvs, err := kv.store.List(monitorID + "/")
	if err != nil {
		return nil, err
	}
	alerts := make([]VersionedAlert, 0, len(vkvs))
	for _, vkv := range vkvs {
		a, err := unmarshalAlert(vkv.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt alert record %q", vkv.Key)
		}
		alerts = append(alerts, VersionedAlert{Alert: a, Version: vkv.Version})
	}
	return alerts, nil
}

func (kv *alertKV) Put(a alert.Alert, expectedVersion int64) (int64, error) {
	data, err := marshalAlert(a)
	if err != nil {
		return 0, err
	}
	return kv.store.Put(alertKey(a.MonitorID, a.ID), data, expectedVersion)
}

func (kv *alertKV) Delete(monitorID, alertID string) error {
	return kv.store.Delete(alertKey(monitorID, alertID))
}
