package ports

import (
	"context"
	"sync"
)

// StaticSectorMap is a simple in-memory SectorMapPort, falling back to
// "OTHER" for unknown scrips (spec §4.B "fallback tag OTHER").
type StaticSectorMap struct {
	mu      sync.RWMutex
	sectors map[string]string
}

// NewStaticSectorMap builds a SectorMapPort from a scrip->sector table.
func NewStaticSectorMap(table map[string]string) *StaticSectorMap {
	cp := make(map[string]string, len(table))
	for k, v := range table {
		cp[k] = v
	}
	return &StaticSectorMap{sectors: cp}
}

const UnknownSector = "OTHER"

func (m *StaticSectorMap) SectorOf(scripCode string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sectors[scripCode]; ok && s != "" {
		return s
	}
	return UnknownSector
}

// Set updates or adds a scrip's sector tag.
func (m *StaticSectorMap) Set(scripCode, sector string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sectors[scripCode] = sector
}

// NoopChat is a ChatPort that discards notifications; useful for tests
// and for deployments that haven't wired a real chat backend.
type NoopChat struct{}

func (NoopChat) Send(ctx context.Context, channel, text string) error { return nil }
