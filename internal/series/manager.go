// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package series

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kaloix/home-sensor/pkg/log"
)

// Manager owns every Series the aggregator knows about, keyed by name. It
// is the thing the ingest server and the alerter both look things up
// through; neither holds a *Series directly.
type Manager struct {
	mu     sync.RWMutex
	series map[string]*Series
}

// NewManager builds a Manager from a set of Configs, constructing and
// restoring each Series. A failure restoring one series is fatal to
// startup, since it would otherwise silently run with an empty history.
func NewManager(configs []Config, years []int) (*Manager, error) {
	m := &Manager{series: make(map[string]*Series, len(configs))}
	for _, cfg := range configs {
		s, err := New(cfg)
		if err != nil {
			return nil, err
		}
		if err := s.Restore(years); err != nil {
			return nil, fmt.Errorf("series %s: restore: %w", cfg.Name, err)
		}
		log.Infof("series %s: restored %d records, %d summaries", cfg.Name, len(s.Records()), len(s.Summaries()))
		m.series[cfg.Name] = s
	}
	return m, nil
}

// Get returns the named Series, or false if no such series is configured.
func (m *Manager) Get(name string) (*Series, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[name]
	return s, ok
}

// Names returns every configured series name, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.series))
	for name := range m.series {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// All returns every Series, in name order.
func (m *Manager) All() []*Series {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.series))
	for name := range m.series {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Series, 0, len(names))
	for _, name := range names {
		out = append(out, m.series[name])
	}
	return out
}

// Close closes every managed Series' CSV file handle.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var firstErr error
	for name, s := range m.series {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("series %s: %w", name, err)
		}
	}
	return firstErr
}
