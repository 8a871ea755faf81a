package variable

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrymomot/varkit/pkg/cache"
)

// defaultCacheCapacity bounds the per-handle deserialization cache.
const defaultCacheCapacity = 128

// DefaultFunc computes a variable's default on demand, with the targeting key
// and attributes of the call site. It is the function form of a default; the
// fixed form is a plain value. The two are distinct at the API boundary, so
// no runtime inspection is ever needed.
type DefaultFunc[T any] func(targetingKey string, attrs map[string]any) T

// Variable is the typed client handle application code resolves variables
// through. A handle is registered once at process startup and lives for the
// process; only its deserialization cache mutates afterwards.
type Variable[T any] struct {
	reg          *Registry
	name         string
	description  string
	defaultValue T
	defaultFunc  DefaultFunc[T]
	decode       func([]byte) (T, error)
	cache        *cache.Bounded[string, T]
}

// VariableOption configures a handle at registration.
type VariableOption[T any] func(*variableConfig[T])

type variableConfig[T any] struct {
	description   string
	cacheCapacity int
	decode        func([]byte) (T, error)
}

// WithVariableDescription sets the human-readable description.
func WithVariableDescription[T any](description string) VariableOption[T] {
	return func(c *variableConfig[T]) { c.description = description }
}

// WithCacheCapacity overrides the deserialization cache capacity.
func WithCacheCapacity[T any](capacity int) VariableOption[T] {
	return func(c *variableConfig[T]) {
		if capacity > 0 {
			c.cacheCapacity = capacity
		}
	}
}

// WithDecoder replaces the JSON decoder used for serialized variant values.
func WithDecoder[T any](decode func([]byte) (T, error)) VariableOption[T] {
	return func(c *variableConfig[T]) {
		if decode != nil {
			c.decode = decode
		}
	}
}

// New registers a typed handle with a fixed default value. A nil registry
// uses the process-wide default registry. Registering the same name twice on
// one registry fails with ErrVariableAlreadyRegistered.
func New[T any](reg *Registry, name string, defaultValue T, opts ...VariableOption[T]) (*Variable[T], error) {
	v, err := newVariable[T](reg, name, opts)
	if err != nil {
		return nil, err
	}
	v.defaultValue = defaultValue
	return v, nil
}

// NewWithDefaultFunc registers a typed handle whose default is computed per
// call from the targeting key and attributes.
func NewWithDefaultFunc[T any](reg *Registry, name string, defaultFn DefaultFunc[T], opts ...VariableOption[T]) (*Variable[T], error) {
	if defaultFn == nil {
		return nil, fmt.Errorf("%w: default function is nil", ErrInvalidConfig)
	}
	v, err := newVariable[T](reg, name, opts)
	if err != nil {
		return nil, err
	}
	v.defaultFunc = defaultFn
	return v, nil
}

func newVariable[T any](reg *Registry, name string, opts []VariableOption[T]) (*Variable[T], error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = Default()
	}
	if err := reg.register(name); err != nil {
		return nil, err
	}

	cfg := variableConfig[T]{
		cacheCapacity: defaultCacheCapacity,
		decode: func(data []byte) (T, error) {
			var out T
			err := json.Unmarshal(data, &out)
			return out, err
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Variable[T]{
		reg:         reg,
		name:        name,
		description: cfg.description,
		decode:      cfg.decode,
		cache:       cache.New[string, T](cfg.cacheCapacity),
	}, nil
}

// Name returns the variable name the handle resolves.
func (v *Variable[T]) Name() string { return v.name }

// Description returns the registered description.
func (v *Variable[T]) Description() string { return v.description }

// Get resolves the variable for one call site. It never panics and never
// returns an error: any failure degrades to the handle's default with the
// Reason and Err fields explaining what happened.
//
// Precedence: a context-scoped override wins over everything; then an
// explicit or context-scoped variant bypass; then provider resolution with
// the effective targeting key (in order: explicit argument, context
// per-variable key, context default key, trace identifier, none).
func (v *Variable[T]) Get(ctx context.Context, opts ...ResolveOption) (out Resolved[T]) {
	o := newResolveOptions(opts)
	ns := v.reg.Namespace()

	ctx, span := v.reg.spanHook().Start(ctx, "variable.resolve")
	defer span.End()
	span.SetAttr("variable.name", v.name)

	targetingKey, attrs := v.resolveInputs(ctx, o)
	span.SetAttr("variable.targeting_key", targetingKey)
	if len(attrs) > 0 {
		span.SetAttr("variable.attributes", attrs)
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("variable %q resolution panicked: %v", v.name, r)
			out = Resolved[T]{
				Name:      v.name,
				Namespace: ns,
				Value:     v.safeDefault(targetingKey, attrs),
				Reason:    ReasonOtherError,
				Err:       err,
			}
		}
		v.record(span, out)
	}()

	// Context overrides take absolute precedence over provider state.
	if raw, fn, ok := overrideFromContext(ctx, v.name); ok {
		if fn != nil {
			raw = fn(targetingKey, attrs)
		}
		out = Resolved[T]{Name: v.name, Namespace: ns, Reason: ReasonContextOverride}
		if typed, castOK := raw.(T); castOK {
			out.Value = typed
		} else {
			out.Value = v.computeDefault(targetingKey, attrs)
			out.Err = fmt.Errorf("context override for %q has type %T", v.name, raw)
		}
		return out
	}

	provider := v.reg.Provider()

	// An explicit variant bypasses rollout selection when it exists; a miss
	// falls through to normal resolution.
	variantKey := o.variant
	if variantKey == "" {
		variantKey, _ = variantFromContext(ctx, v.name)
	}
	if variantKey != "" {
		if cfg, err := provider.GetVariableConfig(ctx, v.name); err == nil {
			if variant, ok := cfg.Variants[variantKey]; ok {
				out = v.deserialize(variant.SerializedValue, variant.Key, targetingKey, attrs, ns)
				return out
			}
		}
	}

	res := provider.GetSerializedValue(ctx, v.name,
		WithTargetingKey(targetingKey), WithAttributes(attrs))
	if res.Value == nil {
		out = Resolved[T]{
			Name:      v.name,
			Namespace: ns,
			Value:     v.computeDefault(targetingKey, attrs),
			Reason:    res.Reason,
			Err:       res.Err,
		}
		return out
	}

	out = v.deserialize(*res.Value, res.Variant, targetingKey, attrs, ns)
	return out
}

// OnChange registers a callback invoked when the backing configuration
// changes. It reports false when the active provider has no change
// notifications (for example the local in-memory provider behind a registry
// that was never wired).
func (v *Variable[T]) OnChange(cb func()) bool {
	if n, ok := v.reg.Provider().(changeNotifier); ok {
		n.OnChange(cb)
		return true
	}
	return false
}

// resolveInputs merges ambient tags into the attribute map (caller-supplied
// attributes win) and computes the effective targeting key.
func (v *Variable[T]) resolveInputs(ctx context.Context, o resolveOptions) (string, map[string]any) {
	var attrs map[string]any
	for k, val := range v.reg.ambientTags(ctx) {
		if attrs == nil {
			attrs = make(map[string]any)
		}
		attrs[k] = val
	}
	for k, val := range o.attributes {
		if attrs == nil {
			attrs = make(map[string]any)
		}
		attrs[k] = val
	}

	key := o.targetingKey
	if key == "" {
		if k, ok := targetingKeyFromContext(ctx, v.name); ok && k != "" {
			key = k
		}
	}
	if key == "" {
		// A trace-derived key keeps the value stable for one traced operation.
		key = v.reg.traceIDFrom(ctx)
	}
	return key, attrs
}

// deserialize decodes a serialized variant value through the bounded cache.
// Only successful decodes are cached: failures may be transient or tied to a
// schema that is later fixed.
func (v *Variable[T]) deserialize(raw, variant, targetingKey string, attrs map[string]any, ns string) Resolved[T] {
	if cached, ok := v.cache.Get(raw); ok {
		return Resolved[T]{Name: v.name, Namespace: ns, Value: cached, Variant: variant, Reason: ReasonResolved}
	}

	val, err := v.decode([]byte(raw))
	if err != nil {
		return Resolved[T]{
			Name:      v.name,
			Namespace: ns,
			Value:     v.computeDefault(targetingKey, attrs),
			Variant:   variant,
			Reason:    ReasonValidationError,
			Err:       err,
		}
	}

	v.cache.Put(raw, val)
	return Resolved[T]{Name: v.name, Namespace: ns, Value: val, Variant: variant, Reason: ReasonResolved}
}

func (v *Variable[T]) computeDefault(targetingKey string, attrs map[string]any) T {
	if v.defaultFunc != nil {
		return v.defaultFunc(targetingKey, attrs)
	}
	return v.defaultValue
}

// safeDefault computes the fallback value inside the recovery path, where the
// original panic may have come from the default function itself. A second
// panic yields the zero value instead of escaping Get.
func (v *Variable[T]) safeDefault(targetingKey string, attrs map[string]any) (out T) {
	defer func() { _ = recover() }()
	return v.computeDefault(targetingKey, attrs)
}

// record finishes the observability span with the resolution outcome. A
// deserialization error is recorded on the span but never propagated.
func (v *Variable[T]) record(span Span, out Resolved[T]) {
	span.SetAttr("variable.reason", string(out.Reason))
	if out.Variant != "" {
		span.SetAttr("variable.variant", out.Variant)
	}
	if data, err := json.Marshal(out.Value); err == nil {
		span.SetAttr("variable.value", string(data))
	}
	if out.Err != nil {
		span.RecordError(out.Err)
	}
}

// CacheLen reports the number of distinct serialized values currently cached.
func (v *Variable[T]) CacheLen() int { return v.cache.Len() }
