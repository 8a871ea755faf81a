package variable

import (
	"context"
	"sync"
)

// Registry binds typed variable handles to the ambient configuration: the
// active provider, an optional namespace for propagation tags, and the
// tracing-boundary extractors. Handles resolve the provider through their
// registry at call time, so swapping the provider affects every handle at
// once.
type Registry struct {
	mu        sync.RWMutex
	provider  Provider
	namespace string
	traceID   TraceIDExtractor
	tags      TagsExtractor
	span      SpanHook
	names     map[string]struct{}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithProvider sets the configuration source for all handles on the registry.
func WithProvider(p Provider) RegistryOption {
	return func(r *Registry) { r.provider = p }
}

// WithNamespace sets the namespace prefixing propagation-tag keys.
func WithNamespace(ns string) RegistryOption {
	return func(r *Registry) { r.namespace = ns }
}

// WithTraceIDExtractor sets the extractor deriving a targeting key from the
// active trace when no other targeting key applies.
func WithTraceIDExtractor(fn TraceIDExtractor) RegistryOption {
	return func(r *Registry) { r.traceID = fn }
}

// WithTagsExtractor sets the extractor feeding ambient propagation tags into
// resolution attributes.
func WithTagsExtractor(fn TagsExtractor) RegistryOption {
	return func(r *Registry) { r.tags = fn }
}

// WithSpanHook sets the hook opening an observability span around each
// resolution.
func WithSpanHook(hook SpanHook) RegistryOption {
	return func(r *Registry) { r.span = hook }
}

// NewRegistry creates a registry. Without WithProvider it resolves through a
// NoopProvider until SetProvider is called.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{names: make(map[string]struct{})}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by handles created without
// an explicit one.
func Default() *Registry { return defaultRegistry }

// SetDefaultProvider wires a provider into the process-wide registry.
func SetDefaultProvider(p Provider) { defaultRegistry.SetProvider(p) }

// SetProvider replaces the registry's configuration source.
func (r *Registry) SetProvider(p Provider) {
	r.mu.Lock()
	r.provider = p
	r.mu.Unlock()
}

// Provider returns the active configuration source, falling back to a
// NoopProvider so resolution always has somewhere to go.
func (r *Registry) Provider() Provider {
	r.mu.RLock()
	p := r.provider
	r.mu.RUnlock()
	if p == nil {
		return NewNoopProvider()
	}
	return p
}

// Namespace returns the propagation-tag namespace.
func (r *Registry) Namespace() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namespace
}

// register claims a handle name for the process lifetime. Identity is per
// registration: a second handle under the same name is a programming error.
func (r *Registry) register(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.names[name]; taken {
		return ErrVariableAlreadyRegistered
	}
	r.names[name] = struct{}{}
	return nil
}

func (r *Registry) spanHook() SpanHook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.span == nil {
		return noopSpanHook{}
	}
	return r.span
}

func (r *Registry) traceIDFrom(ctx context.Context) string {
	r.mu.RLock()
	fn := r.traceID
	r.mu.RUnlock()
	if fn == nil {
		return ""
	}
	return fn(ctx)
}

// ambientTags merges registry-extracted tags with context-scoped tags;
// context tags win.
func (r *Registry) ambientTags(ctx context.Context) map[string]string {
	r.mu.RLock()
	fn := r.tags
	r.mu.RUnlock()

	var merged map[string]string
	if fn != nil {
		for k, v := range fn(ctx) {
			if merged == nil {
				merged = make(map[string]string)
			}
			merged[k] = v
		}
	}
	for k, v := range tagsFromContext(ctx) {
		if merged == nil {
			merged = make(map[string]string)
		}
		merged[k] = v
	}
	return merged
}
