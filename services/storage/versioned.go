package storage

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// VersionedStore layers optimistic concurrency control over a plain
// key/value store. Every key carries a monotonically increasing version;
// writes must name the version they read, and lose with ErrVersionConflict
// when another writer got in between.
//
// Records are stored as a uvarint version prefix followed by the payload.
type VersionedStore struct {
	store Interface
}

func NewVersionedStore(store Interface) *VersionedStore {
	return &VersionedStore{store: store}
}

// NewVersion is the expected version for creating a key that must not
// already exist.
const NewVersion int64 = 0

type VersionedKeyValue struct {
	Key     string
	Version int64
	Value   []byte
}

func encodeVersioned(version int64, value []byte) []byte {
	buf := make([]byte, binary.MaxVarintLen64+len(value))
	n := binary.PutUvarint(buf, uint64(version))
	copy(buf[n:], value)
	return buf[:n+len(value)]
}

func decodeVersioned(key string, data []byte) (VersionedKeyValue, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return VersionedKeyValue{}, errors.Errorf("corrupt version prefix for key %q", key)
	}
	return VersionedKeyValue{
		Key:     key,
		Version: int64(v),
		Value:   data[n:],
	}, nil
}

// Get returns the value and current version of a key.
func (s *VersionedStore) Get(key string) (value []byte, version int64, err error) {
	err = s.store.View(func(tx ReadOnlyTx) error {
		kv, err := tx.Get(key)
		if err != nil {
			return err
		}
		vkv, err := decodeVersioned(key, kv.Value)
		if err != nil {
			return err
		}
		value = vkv.Value
		version = vkv.Version
		return nil
	})
	return
}

// Put writes value only if the key's current version equals
// expectedVersion, and returns the new version. Pass NewVersion to create a
// key that must not exist yet. The compare and the write happen inside one
// transaction; exactly one of two racing writers succeeds.
func (s *VersionedStore) Put(key string, value []byte, expectedVersion int64) (int64, error) {
	newVersion := expectedVersion + 1
	err := s.store.Update(func(tx Tx) error {
		kv, err := tx.Get(key)
		if err == ErrNoKeyExists {
			if expectedVersion != NewVersion {
				return errors.Wrapf(ErrVersionConflict, "key %q: expected version %d, key does not exist", key, expectedVersion)
			}
		} else if err != nil {
			return err
		} else {
			current, err := decodeVersioned(key, kv.Value)
			if err != nil {
				return err
			}
			if current.Version != expectedVersion {
				return errors.Wrapf(ErrVersionConflict, "key %q: expected version %d, have %d", key, expectedVersion, current.Version)
			}
		}
		return tx.Put(key, encodeVersioned(newVersion, value))
	})
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Delete removes a key regardless of its version.
// Deleting a non-existent key is not an error.
func (s *VersionedStore) Delete(key string) error {
	return s.store.Update(func(tx Tx) error {
		return tx.Delete(key)
	})
}

// List returns all versioned records under the prefix, ordered by key.
func (s *VersionedStore) List(prefix string) (vkvs []VersionedKeyValue, err error) {
	err = s.store.View(func(tx ReadOnlyTx) error {
		kvs, err := tx.List(prefix)
		if err != nil {
			return err
		}
		vkvs = make([]VersionedKeyValue, 0, len(kvs))
		for _, kv := range kvs {
			vkv, err := decodeVersioned(kv.Key, kv.Value)
			if err != nil {
				return err
			}
			vkvs = append(vkvs, vkv)
		}
		return nil
	})
	return
}
