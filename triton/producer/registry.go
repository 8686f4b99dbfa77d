package producer

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tritonstream/triton/triton/backend"
	"github.com/tritonstream/triton/triton/tritonerr"
)

// registryCacheSize bounds how many opened Streams a Registry keeps
// live at once. Backends (Kinesis/Pub-Sub clients, shard-id caches)
// are not free to keep around indefinitely in a deployment whose
// configuration document names many logical streams over its
// lifetime, so opened streams are cached in an LRU rather than an
// unbounded map.
const registryCacheSize = 256

// BackendFactory builds the concrete Backend for one decoded
// configuration entry. Callers supply this so the registry itself
// never has to decide between Kinesis/Pub-Sub credentials wiring.
type BackendFactory func(EntryConfig) (backend.Backend, error)

// Registry opens and caches Streams by logical name, from a decoded
// configuration document. Entries with more than one backend are
// served by LookupComposite, which builds a new Composite on every
// call; Composites are not cached.
type Registry struct {
	entries map[string][]EntryConfig
	factory BackendFactory
	cache   *lru.Cache[string, *Stream]
}

// NewRegistry decodes document and returns a Registry that lazily
// opens streams through factory on first Lookup.
func NewRegistry(document map[string]interface{}, factory BackendFactory) (*Registry, error) {
	entries, err := ParseDocument(document)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, *Stream](registryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("allocating stream cache: %w", err)
	}
	return &Registry{entries: entries, factory: factory, cache: cache}, nil
}

// Lookup returns the cached *Stream for name, opening and caching it
// on first use. Composite entries (more than one backend configured
// under the same name) are not representable as a single *Stream; use
// LookupComposite for those.
func (r *Registry) Lookup(name string) (*Stream, error) {
	if s, ok := r.cache.Get(name); ok {
		return s, nil
	}
	configs, ok := r.entries[name]
	if !ok {
		return nil, &tritonerr.StreamNotConfiguredError{Name: name}
	}
	if len(configs) != 1 {
		return nil, fmt.Errorf("stream %q is configured as a composite; use LookupComposite", name)
	}

	be, err := r.factory(configs[0])
	if err != nil {
		return nil, fmt.Errorf("constructing backend for stream %q: %w", name, err)
	}
	var s = NewStream(name, configs[0].PartitionKey, be)
	r.cache.Add(name, s)
	return s, nil
}

// LookupComposite returns a *Composite fanning out to every backend
// configured under name.
func (r *Registry) LookupComposite(name string) (*Composite, error) {
	configs, ok := r.entries[name]
	if !ok {
		return nil, &tritonerr.StreamNotConfiguredError{Name: name}
	}

	var children = make([]*Stream, len(configs))
	for i, cfg := range configs {
		be, err := r.factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("constructing backend %d for stream %q: %w", i, name, err)
		}
		children[i] = NewStream(name, cfg.PartitionKey, be)
	}
	return NewComposite(children...), nil
}
