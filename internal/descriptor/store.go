package descriptor

import (
	"fmt"
	"sort"
	"sync"
)

// ErrPortConflict is returned by Store.Put when a second descriptor claims a
// port that an already registered descriptor holds.
type ErrPortConflict struct {
	Name  string
	Port  int
	Owner string
}

func (e *ErrPortConflict) Error() string {
	return fmt.Sprintf("port %d requested by %s already claimed by %s", e.Port, e.Name, e.Owner)
}

// Store is the in-memory registry of discovered descriptors. It enforces
// name uniqueness and declared-port uniqueness; there is no persistence
// beyond PID files, which internal/state owns.
type Store struct {
	mu    sync.RWMutex
	byKey map[string]Descriptor
	ports map[int]string // port -> owning descriptor name
}

func NewStore() *Store {
	return &Store{
		byKey: make(map[string]Descriptor),
		ports: make(map[int]string),
	}
}

// Put registers d, replacing any previous descriptor with the same name.
// It refuses descriptors whose declared port is claimed by a different unit.
func (s *Store) Put(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("descriptor without name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Port > 0 {
		if owner, ok := s.ports[d.Port]; ok && owner != d.Name {
			return &ErrPortConflict{Name: d.Name, Port: d.Port, Owner: owner}
		}
	}
	if prev, ok := s.byKey[d.Name]; ok && prev.Port > 0 && prev.Port != d.Port {
		delete(s.ports, prev.Port)
	}
	s.byKey[d.Name] = d
	if d.Port > 0 {
		s.ports[d.Port] = d.Name
	}
	return nil
}

// Get returns the descriptor registered under name.
func (s *Store) Get(name string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byKey[name]
	return d, ok
}

// Remove unregisters name and releases its port claim.
func (s *Store) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.byKey[name]; ok {
		if d.Port > 0 && s.ports[d.Port] == name {
			delete(s.ports, d.Port)
		}
		delete(s.byKey, name)
	}
}

// PortOwner returns the name of the descriptor holding port, if any.
func (s *Store) PortOwner(port int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.ports[port]
	return owner, ok
}

// All returns every registered descriptor sorted by name.
func (s *Store) All() []Descriptor {
	s.mu.RLock()
	out := make([]Descriptor, 0, len(s.byKey))
	for _, d := range s.byKey {
		out = append(out, d)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of registered descriptors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// Clear drops every descriptor, typically ahead of a fresh discovery pass.
func (s *Store) Clear() {
	s.mu.Lock()
	s.byKey = make(map[string]Descriptor)
	s.ports = make(map[int]string)
	s.mu.Unlock()
}
