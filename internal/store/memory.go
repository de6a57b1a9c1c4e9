package store

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// Memory keeps records in process memory. Nothing survives a restart.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
	cycles  []Cycle
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

func (m *Memory) Load(_ context.Context, instanceID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[instanceID]
	if !ok {
		return nil, nil
	}
	return maps.Clone(rec), nil
}

func (m *Memory) Save(_ context.Context, instanceID string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := m.records[instanceID]
	if merged == nil {
		merged = make(Record, len(rec))
	}
	maps.Copy(merged, rec)
	m.records[instanceID] = merged
	return nil
}

func (m *Memory) AppendCycle(_ context.Context, c Cycle) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, c)
	return nil
}

// Cycles returns the most recent cycles first.
func (m *Memory) Cycles(_ context.Context, instanceID string, limit int) ([]Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Cycle
	for i := len(m.cycles) - 1; i >= 0; i-- {
		if m.cycles[i].InstanceID != instanceID {
			continue
		}
		out = append(out, m.cycles[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
