// Package store keeps local state as JSON blobs under well known keys. The
// engine must keep running when storage does not: loads degrade to defaults
// and saves log their failures instead of returning them.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"civicmesh/engine/library"
)

var ErrClosed = errors.New("store is closed")

type Store interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Keys(prefix string) ([]string, error)
	Close() error
}

// LoadJSON decodes the blob under key into a value of type T. A missing key,
// a read error or malformed JSON all yield def.
func LoadJSON[T any](s Store, key string, def T) T {
	b, ok, err := s.Get(key)
	if err != nil {
		library.LogCLI(fmt.Sprintf("could not read %s from local state: %s", key, err.Error()), 2)
		return def
	}
	if !ok || len(b) == 0 {
		return def
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		library.LogCLI(fmt.Sprintf("discarding malformed local state under %s: %s", key, err.Error()), 2)
		return def
	}
	return v
}

// SaveJSON encodes v under key and reports whether it was stored. Failures
// are logged, not returned.
func SaveJSON(s Store, key string, v any) bool {
	b, err := json.MarshalIndent(v, "", " ")
	if err != nil {
		library.LogCLI(fmt.Sprintf("could not encode %s for local state: %s", key, err.Error()), 1)
		return false
	}
	if err := s.Put(key, b); err != nil {
		library.LogCLI(fmt.Sprintf("could not persist %s to local state: %s", key, err.Error()), 2)
		return false
	}
	return true
}

// Open returns the backend named by kind ("file" or "badger") rooted at dir.
func Open(kind, dir string) (Store, error) {
	switch kind {
	case "", "file":
		return NewFileStore(dir)
	case "badger":
		return OpenBadger(BadgerConfig{Path: dir, SyncWrites: true})
	case "memory":
		return OpenBadger(BadgerConfig{InMemory: true})
	}
	return nil, fmt.Errorf("unknown store backend %q", kind)
}
