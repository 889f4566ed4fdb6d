package store

import (
	"bytes"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryKV is an in-memory KV for tests. It honors TTLs against its own clock.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// Now is the clock used for expiry; time.Now when nil
	Now func() time.Time
	// Err, when set, is returned by every operation
	Err error
	// Delay, when set, is slept before every operation
	Delay time.Duration
	// Fail, when set, is consulted before every operation with its name
	// ("get", "set", "cas", "delete", "list") and key or prefix
	Fail func(op, key string) error

	scanned int
}

// NewMemoryKV creates an empty in-memory KV
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memoryEntry)}
}

func (m *MemoryKV) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MemoryKV) before(op, key string) error {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	if m.Fail != nil {
		if err := m.Fail(op, key); err != nil {
			return err
		}
	}
	return m.Err
}

// FailOnce returns a Fail hook that fails the first matching operation on a key
// with the given prefix and lets every later call through
func FailOnce(op, prefix string, err error) func(string, string) error {
	var once sync.Once
	return func(gotOp, key string) error {
		if gotOp != op || !strings.HasPrefix(key, prefix) {
			return nil
		}
		var result error
		once.Do(func() { result = err })
		return result
	}
}

// lookup returns the live entry for key. Caller holds mu.
func (m *MemoryKV) lookup(key string) ([]byte, bool) {
	entry, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (m *MemoryKV) store(key string, value []byte, ttl time.Duration) {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry
}

func (m *MemoryKV) Get(key string) ([]byte, error) {
	if err := m.before("get", key); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.lookup(key)
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryKV) Set(key string, value []byte, ttl time.Duration) error {
	if err := m.before("set", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.store(key, value, ttl)
	return nil
}

func (m *MemoryKV) CompareAndSet(key string, oldValue, newValue []byte, ttl time.Duration) (bool, error) {
	if err := m.before("cas", key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.lookup(key)
	if oldValue == nil {
		if exists {
			return false, nil
		}
	} else if !exists || !bytes.Equal(current, oldValue) {
		return false, nil
	}

	m.store(key, newValue, ttl)
	return true, nil
}

func (m *MemoryKV) Delete(key string) error {
	if err := m.before("delete", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *MemoryKV) ListKeys(prefix string) ([]string, error) {
	if err := m.before("list", prefix); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for key := range m.entries {
		m.scanned++
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := m.lookup(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of live keys
func (m *MemoryKV) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key := range m.entries {
		if _, ok := m.lookup(key); ok {
			n++
		}
	}
	return n
}

// Scanned returns how many keys ListKeys has examined so far, the way a
// keyspace listing pages through every key of the plugin
func (m *MemoryKV) Scanned() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanned
}

// Has reports whether key is live
func (m *MemoryKV) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok
}

// NewMemoryClient returns a client over a fresh MemoryKV
func NewMemoryClient() (*Client, *MemoryKV) {
	kv := NewMemoryKV()
	return NewClient(kv, DefaultTimeout), kv
}
