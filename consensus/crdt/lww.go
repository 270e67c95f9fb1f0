package crdt

import (
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/exp/slices"
)

type Entry[T any] struct {
	Value     T         `json:"value"`
	Timestamp Timestamp `json:"timestamp"`
}

// Register is a single value last-write-wins cell. Ties go to the incoming
// entry.
type Register[T any] struct {
	clock *Clock
	entry *Entry[T]
	mu    *deadlock.Mutex
}

func NewRegister[T any](clock *Clock) *Register[T] {
	if clock == nil {
		clock = NewClock()
	}
	return &Register[T]{clock: clock, mu: &deadlock.Mutex{}}
}

// Set stamps value with a fresh timestamp and returns the entry so it can be
// sent to peers.
func (r *Register[T]) Set(value T) Entry[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := Entry[T]{Value: value, Timestamp: r.clock.Tick()}
	r.entry = &e
	return e
}

// Merge adopts incoming if the register is empty or incoming is at least as
// new as the held entry. The clock observes incoming either way.
func (r *Register[T]) Merge(incoming Entry[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock.Merge(incoming.Timestamp)
	if r.entry != nil && incoming.Timestamp < r.entry.Timestamp {
		return false
	}
	e := incoming
	r.entry = &e
	return true
}

func (r *Register[T]) Read() (v T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entry == nil {
		return v, false
	}
	return r.entry.Value, true
}

func (r *Register[T]) Entry() (e Entry[T], ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entry == nil {
		return e, false
	}
	return *r.entry, true
}

// RegisterMap is a keyed set of registers sharing one clock.
type RegisterMap[T any] struct {
	clock     *Clock
	registers map[string]*Register[T]
	mu        *deadlock.Mutex
}

func NewRegisterMap[T any](clock *Clock) *RegisterMap[T] {
	if clock == nil {
		clock = NewClock()
	}
	return &RegisterMap[T]{
		clock:     clock,
		registers: make(map[string]*Register[T]),
		mu:        &deadlock.Mutex{},
	}
}

func (m *RegisterMap[T]) register(key string) *Register[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registers[key]
	if !ok {
		r = NewRegister[T](m.clock)
		m.registers[key] = r
	}
	return r
}

func (m *RegisterMap[T]) Set(key string, value T) Entry[T] {
	return m.register(key).Set(value)
}

func (m *RegisterMap[T]) Merge(key string, incoming Entry[T]) bool {
	return m.register(key).Merge(incoming)
}

func (m *RegisterMap[T]) Entry(key string) (Entry[T], bool) {
	m.mu.Lock()
	r, ok := m.registers[key]
	m.mu.Unlock()
	if !ok {
		var e Entry[T]
		return e, false
	}
	return r.Entry()
}

// Keys returns every key holding an entry, sorted.
func (m *RegisterMap[T]) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, r := range m.registers {
		if _, ok := r.Entry(); ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (m *RegisterMap[T]) Clock() *Clock {
	return m.clock
}
