package mesh

import (
	"context"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// Memory is an in-process mesh. Writes become visible after Delay, or never
// when Drop is set. It stands in for relays in tests and offline mode.
type Memory struct {
	Delay time.Duration
	Drop  bool
	// PutErr and OnceErr, when set, fail every call.
	PutErr  error
	OnceErr error

	data  map[string][]byte
	puts  int
	mutex deadlock.Mutex
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	m.puts++
	putErr, drop, delay := m.PutErr, m.Drop, m.Delay
	m.mutex.Unlock()
	if putErr != nil {
		return putErr
	}
	if drop {
		return nil
	}
	v := append([]byte(nil), value...)
	store := func() {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		if m.data == nil {
			m.data = make(map[string][]byte)
		}
		m.data[key] = v
	}
	if delay <= 0 {
		store()
		return nil
	}
	time.AfterFunc(delay, store)
	return nil
}

func (m *Memory) Once(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.OnceErr != nil {
		return nil, false, m.OnceErr
	}
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Puts counts calls to Put, failed ones included.
func (m *Memory) Puts() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.puts
}

// Keys lists every visible key.
func (m *Memory) Keys() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

// Configure changes the delivery behaviour of later writes.
func (m *Memory) Configure(delay time.Duration, drop bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.Delay = delay
	m.Drop = drop
}
