// Package replay stops the same logical operation from being applied twice.
// Retried mesh writes and re-delivered relay events carry the same operation
// id, and anything marked here is a no-op for the aggregator until Reset.
package replay

import (
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/exp/slices"
)

type Store struct {
	data  map[string]struct{}
	mutex *deadlock.Mutex
}

func New() *Store {
	return &Store{
		data:  make(map[string]struct{}),
		mutex: &deadlock.Mutex{},
	}
}

func (s *Store) IsOperationSeen(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.data[id]
	return ok
}

func (s *Store) MarkOperationSeen(id string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.data[id] = struct{}{}
}

// MarkIfUnseen marks id and reports true, or reports false if it was
// already seen.
func (s *Store) MarkIfUnseen(id string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.data[id]; ok {
		return false
	}
	s.data[id] = struct{}{}
	return true
}

// ResetSeenOperations forgets every operation. Used between sessions and
// in tests.
func (s *Store) ResetSeenOperations() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.data = make(map[string]struct{})
}

func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.data)
}

// Seen returns every seen id, sorted.
func (s *Store) Seen() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
