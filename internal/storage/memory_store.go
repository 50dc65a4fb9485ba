package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tyiu/sats-price/internal/domain"
)

// MemoryStore is an in-memory SelectionStore and SettingsStore, used when no
// database path is available and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	codes    []string
	settings map[string]domain.AppConfig
}

var (
	_ domain.SelectionStore = (*MemoryStore)(nil)
	_ domain.SettingsStore  = (*MemoryStore)(nil)
)

func NewMemoryStore(codes ...string) *MemoryStore {
	m := &MemoryStore{settings: make(map[string]domain.AppConfig)}
	for _, c := range codes {
		m.Insert(context.Background(), c)
	}
	return m
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.codes...), nil
}

func (m *MemoryStore) Insert(ctx context.Context, code string) error {
	code = strings.ToUpper(code)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c == code {
			return nil
		}
	}
	m.codes = append(m.codes, code)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, code string) error {
	code = strings.ToUpper(code)
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.codes {
		if c == code {
			m.codes = append(m.codes[:i], m.codes[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) UpsertSetting(ctx context.Context, setting domain.AppConfig) error {
	if setting.UpdatedAtUnixM == 0 {
		setting.UpdatedAtUnixM = time.Now().UnixMilli()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[setting.Key] = setting
	return nil
}

func (m *MemoryStore) GetSetting(ctx context.Context, key string) (domain.AppConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settings[key]
	return s, ok, nil
}
