package adapter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/threadsync/threadsync/pkg/crypto"
)

// Registry maps source-type tags to adapter factories. It is populated once
// at startup and read-mostly afterwards; lookups are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	enc       *crypto.Encryptor
}

// NewRegistry creates an empty registry whose adapters will decrypt
// credentials with enc.
func NewRegistry(enc *crypto.Encryptor) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		enc:       enc,
	}
}

// Register binds tag to factory. A later registration for the same tag
// overwrites the earlier one.
func (r *Registry) Register(tag string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = factory
}

// Get returns a fresh adapter instance for tag. Unknown tags fail with a
// message listing what is available.
func (r *Registry) Get(tag string) (SourceAdapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source type %q, available: %s", tag, strings.Join(r.Tags(), ", "))
	}
	return factory(r.enc), nil
}

// Tags returns the registered source-type tags, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
