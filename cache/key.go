package cache

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/goliatone/go-collection-cache/filters"
)

// Well known operation names.
const (
	OpList   = "list"
	OpDetail = "detail"
	OpCount  = "count"
)

// Key identifies a cache entry: resource, operation and the normalized filter
// set. Two keys are equal iff their String forms are equal.
type Key struct {
	resource  string
	operation string
	filters   filters.Set
	id        string
}

// Resource returns the snake_cased resource name.
func (k Key) Resource() string { return k.resource }

// Operation returns the operation name.
func (k Key) Operation() string { return k.operation }

// Filters returns a copy of the filter set the key was built from.
func (k Key) Filters() filters.Set {
	if k.filters == nil {
		return filters.Set{}
	}
	return k.filters.Clone()
}

// String returns the canonical identity of the key.
func (k Key) String() string { return k.id }

// Fingerprint is a compact hash of the canonical identity.
func (k Key) Fingerprint() uint64 { return xxhash.Sum64String(k.id) }

// Equal reports whether both keys address the same entry.
func (k Key) Equal(other Key) bool { return k.id == other.id }

// IsZero reports whether the key was never built.
func (k Key) IsZero() bool { return k.id == "" }

// KeyBuilder derives cache keys from request parameters.
type KeyBuilder interface {
	Build(resource, operation string, f filters.Set) (Key, error)
}

type defaultKeyBuilder struct {
	values valueSerializer
}

// NewKeyBuilder returns the default key builder. Resource and operation names
// are snake_cased and filter fields are serialized in sorted order.
func NewKeyBuilder() KeyBuilder {
	return &defaultKeyBuilder{}
}

// Build implements KeyBuilder.
func (b *defaultKeyBuilder) Build(resource, operation string, f filters.Set) (Key, error) {
	resource = SnakeCase(resource)
	operation = SnakeCase(operation)
	if resource == "" || operation == "" {
		return Key{}, ErrInvalidKey
	}

	id := resource + KeySeparator + operation
	if len(f) > 0 {
		id += KeySeparator + b.values.serialize(map[string]any(f))
	}

	var owned filters.Set
	if f != nil {
		owned = f.Clone()
	}

	return Key{resource: resource, operation: operation, filters: owned, id: id}, nil
}

// MustBuild is Build for statically known arguments. It panics on error.
func MustBuild(b KeyBuilder, resource, operation string, f filters.Set) Key {
	key, err := b.Build(resource, operation, f)
	if err != nil {
		panic(err)
	}
	return key
}

// Matcher selects keys for invalidation.
type Matcher func(Key) bool

// MatchExact matches a single key.
func MatchExact(key Key) Matcher {
	return func(k Key) bool { return k.Equal(key) }
}

// MatchResource matches every key of a resource.
func MatchResource(resource string) Matcher {
	resource = SnakeCase(resource)
	return func(k Key) bool { return k.resource == resource }
}

// MatchOperation matches every key of a resource operation, whatever the filters.
func MatchOperation(resource, operation string) Matcher {
	resource, operation = SnakeCase(resource), SnakeCase(operation)
	return func(k Key) bool { return k.resource == resource && k.operation == operation }
}

// MatchPrefix matches keys whose canonical form starts with prefix.
func MatchPrefix(prefix string) Matcher {
	return func(k Key) bool { return strings.HasPrefix(k.id, prefix) }
}

// MatchAll matches every key.
func MatchAll() Matcher {
	return func(Key) bool { return true }
}

// MatchAny combines matchers with a logical or.
func MatchAny(matchers ...Matcher) Matcher {
	return func(k Key) bool {
		for _, m := range matchers {
			if m != nil && m(k) {
				return true
			}
		}
		return false
	}
}
