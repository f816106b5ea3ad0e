package stagequeue

import (
	"fmt"
	"sort"

	"github.com/sasha-s/go-deadlock"
)

// DefaultDeferringPlugins are plugin ids whose own after-evaluate work must
// finish before a queue attached to the same project drains. When one of them
// is applied, the queue registers its drain listener from the plugin's
// callback so that it runs after the plugin's listeners.
var DefaultDeferringPlugins = []string{
	"com.android.application",
	"com.android.library",
	"com.android.test",
	"com.android.dynamic-feature",
}

// PluginManager tracks which plugins are applied to a project and notifies
// callbacks waiting for them.
type PluginManager struct {
	project  *Project
	mu       deadlock.Mutex
	registry map[string]Listener
	applied  map[string]bool
	waiting  map[string][]Listener
}

func newPluginManager(p *Project) *PluginManager {
	return &PluginManager{
		project:  p,
		registry: make(map[string]Listener),
		applied:  make(map[string]bool),
		waiting:  make(map[string][]Listener),
	}
}

// Register makes a plugin available to Apply. apply may be nil for marker
// plugins. It panics if a plugin with the same id is already registered.
func (m *PluginManager) Register(id string, apply Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.registry[id]; exists {
		panic(fmt.Sprintf("plugin with id '%s' is already registered", id))
	}
	m.registry[id] = apply
}

// Apply applies a registered plugin, then runs every callback waiting for it
// in registration order. The plugin counts as applied from the moment its
// apply function starts. Applying an applied plugin is a no-op.
func (m *PluginManager) Apply(id string) error {
	m.mu.Lock()
	apply, ok := m.registry[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("cannot apply '%s' to %s: %w", id, m.project.Path(), ErrUnknownPlugin)
	}
	if m.applied[id] {
		m.mu.Unlock()
		return nil
	}
	m.applied[id] = true
	m.mu.Unlock()

	m.project.logger.Debug("Applying plugin %s to %s", id, m.project.Path())
	if apply != nil {
		if err := apply(m.project); err != nil {
			return fmt.Errorf("plugin '%s' failed: %w", id, err)
		}
	}

	m.mu.Lock()
	pending := m.waiting[id]
	delete(m.waiting, id)
	m.mu.Unlock()

	for _, fn := range pending {
		if err := fn(m.project); err != nil {
			return fmt.Errorf("callback for plugin '%s' failed: %w", id, err)
		}
	}
	return nil
}

// HasPlugin reports whether id has been applied.
func (m *PluginManager) HasPlugin(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied[id]
}

// WithPlugin runs fn once the plugin id is applied: immediately if it already
// is, otherwise from Apply. Each callback runs at most once.
func (m *PluginManager) WithPlugin(id string, fn Listener) error {
	m.mu.Lock()
	if !m.applied[id] {
		m.waiting[id] = append(m.waiting[id], fn)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	return fn(m.project)
}

// Applied returns the ids of every applied plugin, sorted.
func (m *PluginManager) Applied() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.applied))
	for id := range m.applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
