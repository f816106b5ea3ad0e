package extensions

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
)

var (
	ErrNotFound     = errors.New("extension not found")
	ErrDuplicate    = errors.New("extension already exists")
	ErrTypeMismatch = errors.New("extension has a different type")
	ErrEmptyName    = errors.New("extension name cannot be empty")
	ErrNilValue     = errors.New("extension value cannot be nil")
)

// Container is a threadsafe, type‑aware set of named extensions.
type Container struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	typ      reflect.Type
	value    any
	metadata *Metadata
}

// NewContainer constructs an empty container.
func NewContainer() *Container {
	return &Container{entries: make(map[string]entry)}
}

// Add registers value under name. Names are unique for the container's
// lifetime unless removed.
func (c *Container) Add(name string, value any, tags ...string) error {
	if name == "" {
		return ErrEmptyName
	}
	if value == nil {
		return ErrNilValue
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	c.entries[name] = newEntry(value, tags)
	return nil
}

func newEntry(value any, tags []string) entry {
	meta := NewMetadata()
	for _, tag := range tags {
		meta.AddTag(tag)
	}
	return entry{typ: reflect.TypeOf(value), value: value, metadata: meta}
}

// FindByName returns the extension registered under name, if any.
func (c *Container) FindByName(name string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Get retrieves the extension registered under name as a T.
func Get[T any](c *Container, name string) (T, error) {
	var zero T
	if name == "" {
		return zero, ErrEmptyName
	}

	value, ok := c.FindByName(name)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, not %s", ErrTypeMismatch, name, value, reflect.TypeOf((*T)(nil)).Elem())
	}
	return typed, nil
}

// GetOrCreate returns the extension registered under name, creating and
// registering it with create when absent. The lookup and the registration
// happen under one lock, so concurrent callers observe a single instance.
// create must not use the container.
func GetOrCreate[T any](c *Container, name string, create func() T, tags ...string) (T, error) {
	var zero T
	if name == "" {
		return zero, ErrEmptyName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[name]; ok {
		typed, ok := e.value.(T)
		if !ok {
			return zero, fmt.Errorf("%w: %s is %T, not %s", ErrTypeMismatch, name, e.value, reflect.TypeOf((*T)(nil)).Elem())
		}
		return typed, nil
	}

	value := create()
	if any(value) == nil {
		return zero, ErrNilValue
	}
	c.entries[name] = newEntry(value, tags)
	return value, nil
}

// FindByType returns the names of every extension assignable to T, sorted.
func FindByType[T any](c *Container) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for name, e := range c.entries {
		if _, ok := e.value.(T); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Remove deletes an extension. It reports whether one was removed.
func (c *Container) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[name]; !ok {
		return false
	}
	delete(c.entries, name)
	return true
}

// Names returns every registered name, sorted.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered extensions.
func (c *Container) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// TypeName returns the Go type of the extension registered under name.
func (c *Container) TypeName(name string) (string, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.typ.String(), nil
}

// GetMetadata returns the metadata attached to an extension.
func (c *Container) GetMetadata(name string) (*Metadata, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e.metadata, nil
}

// AddTag adds a tag to an extension's metadata
func (c *Container) AddTag(name, tag string) error {
	meta, err := c.GetMetadata(name)
	if err != nil {
		return err
	}
	meta.AddTag(tag)
	return nil
}

// SetProperty sets a property on an extension's metadata
func (c *Container) SetProperty(name, key string, value any) error {
	meta, err := c.GetMetadata(name)
	if err != nil {
		return err
	}
	meta.SetProperty(key, value)
	return nil
}

// FindByTag returns the names of every extension tagged with tag, sorted.
func (c *Container) FindByTag(tag string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for name, e := range c.entries {
		if e.metadata.HasTag(tag) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Schema returns a JSON Schema representation of the extension's type.
func (c *Container) Schema(name string) (map[string]interface{}, error) {
	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return TypeToSchema(e.typ), nil
}

// TypeToSchema converts a reflect.Type to a JSON schema. Pointer types are
// described by their element type.
func TypeToSchema(t reflect.Type) map[string]interface{} {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	reflector := jsonschema.Reflector{
		ExpandedStruct:            t.Kind() == reflect.Struct,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.ReflectFromType(t)

	fallback := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return fallback
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(data, &schemaMap); err != nil {
		return fallback
	}

	if _, exists := schemaMap["type"]; !exists {
		schemaMap["type"] = "object"
	}
	return schemaMap
}

// Metadata holds tags and properties describing an extension.
type Metadata struct {
	mu          sync.RWMutex
	Tags        []string
	Properties  map[string]any
	Description string
	CreatedAt   time.Time
}

// NewMetadata returns empty metadata stamped with the current time.
func NewMetadata() *Metadata {
	return &Metadata{
		Tags:       []string{},
		Properties: make(map[string]any),
		CreatedAt:  time.Now(),
	}
}

// AddTag adds a tag if it is not present yet.
func (m *Metadata) AddTag(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.Tags {
		if t == tag {
			return
		}
	}
	m.Tags = append(m.Tags, tag)
}

// RemoveTag removes a tag.
func (m *Metadata) RemoveTag(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.Tags {
		if t == tag {
			m.Tags = append(m.Tags[:i], m.Tags[i+1:]...)
			return
		}
	}
}

// HasTag reports whether tag is present.
func (m *Metadata) HasTag(tag string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// SetProperty sets a property value.
func (m *Metadata) SetProperty(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Properties[key] = value
}

// GetProperty returns a property value.
func (m *Metadata) GetProperty(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.Properties[key]
	return v, ok
}
