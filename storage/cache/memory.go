package cache

import (
	"sync"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
)

// Memory is the in-memory Store, used in tests and whenever no cache
// directory is configured. It enforces the same byte quota as the persistent
// store so capacity behavior stays identical across backings.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	quota  *quota
	logger core.Logger
}

var _ Store = (*Memory)(nil)

func NewMemory(maxBytes int64, logger core.Logger) *Memory {
	return &Memory{
		data:   make(map[string][]byte),
		quota:  newQuota(maxBytes),
		logger: logger,
	}
}

func (m *Memory) Get(key string, v interface{}) error {
	m.mu.RLock()
	data := m.data[key]
	m.mu.RUnlock()
	unmarshal(key, data, v, m.logger)
	return nil
}

func (m *Memory) Set(key string, v interface{}) bool {
	data, ok := marshal(key, v, m.logger)
	if !ok {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.quota.admit(key, int64(len(data))) {
		m.logger.Warn(capacityMsg(key, int64(len(data)), m.quota.max))
		return false
	}
	m.data[key] = data
	return true
}
