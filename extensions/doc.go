// Package extensions provides a per-owner container of named auxiliary objects.
//
// A Container attaches state to a long-lived owner without the owner knowing
// the concrete types involved: plugins and subsystems add objects under a
// unique name and look them up again by name or by type. Each entry carries
// metadata with tags and free-form properties.
//
// Core features include:
//   - Type-safe lookups using generics (Get, FindByType)
//   - Atomic get-or-create memoization (GetOrCreate)
//   - Metadata with tags and properties, searchable by tag
//   - JSON Schema descriptions of stored types
//   - Thread-safe operations
package extensions
