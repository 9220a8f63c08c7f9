package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Keys shared between the coordinator, the page snapshotter and the panel.
const (
	KeyPanelOpen  = "panelOpen"
	KeyPageString = "pagestring"
	KeyPageHTML   = "pagehtml"
	KeyAltTexts   = "alttexts"
	KeyTableData  = "tabledata"
)

// ErrNotFound is returned by GetItem for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is a best-effort string key/value store. Non-string values are stored
// as their JSON encoding; strings are stored as-is.
type KV interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key string, value any) error
	DeleteItem(ctx context.Context, key string) error
	Close() error
}

// Encode renders value the way SetItem stores it.
func Encode(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode value: %w", err)
	}
	return string(data), nil
}

// GetBool reads a boolean key. A missing key reads as false.
func GetBool(ctx context.Context, kv KV, key string) (bool, error) {
	raw, err := kv.GetItem(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var b bool
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return false, fmt.Errorf("key %s is not a boolean: %w", key, err)
	}
	return b, nil
}

// GetString reads a string key. A missing key reads as "".
func GetString(ctx context.Context, kv KV, key string) (string, error) {
	raw, err := kv.GetItem(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return raw, err
}

// Memory is an in-process KV.
type Memory struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

func (m *Memory) GetItem(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) SetItem(_ context.Context, key string, value any) error {
	v, err := Encode(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items[key] = v
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteItem(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Keys lists stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
