package workspace

import "sync"

// Mounts tracks the view each client has mounted, keyed by client. Mounting
// a second view under the same key unmounts the first.
type Mounts struct {
	mu    sync.Mutex
	byKey map[string]*View
}

func NewMounts() *Mounts {
	return &Mounts{byKey: make(map[string]*View)}
}

// Replace mounts v under key and closes the view it displaces.
func (m *Mounts) Replace(key string, v *View) {
	m.mu.Lock()
	prev := m.byKey[key]
	m.byKey[key] = v
	m.mu.Unlock()

	if prev != nil && prev != v {
		prev.Close()
	}
}

func (m *Mounts) Get(key string) (*View, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.byKey[key]
	return v, ok
}

// Release unmounts v if it is still the view under key, and closes it.
func (m *Mounts) Release(key string, v *View) {
	m.mu.Lock()
	current, ok := m.byKey[key]
	if ok && current == v {
		delete(m.byKey, key)
	}
	m.mu.Unlock()
	v.Close()
}

// CloseAll unmounts every view whose key matches.
func (m *Mounts) CloseAll(match func(key string) bool) int {
	m.mu.Lock()
	var views []*View
	for key, v := range m.byKey {
		if match(key) {
			views = append(views, v)
			delete(m.byKey, key)
		}
	}
	m.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	return len(views)
}
