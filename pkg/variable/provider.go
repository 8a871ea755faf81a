package variable

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// Provider is the capability every source of variable configuration must
// expose. GetSerializedValue never returns an error: degraded availability is
// reported through the Resolution's Reason and Err fields so application code
// keeps functioning on defaults.
type Provider interface {
	// GetSerializedValue resolves one variable to its serialized value.
	GetSerializedValue(ctx context.Context, name string, opts ...ResolveOption) Resolution

	// Refresh re-reads the backing configuration. Providers without a
	// refreshable source treat it as a no-op. A forced refresh bypasses any
	// freshness window.
	Refresh(ctx context.Context, force bool) error

	// Close releases provider resources. It is idempotent.
	Close() error

	// GetVariableConfig returns the configuration of one variable, by
	// canonical name or alias. It returns ErrVariableNotFound when absent.
	GetVariableConfig(ctx context.Context, name string) (*VariableConfig, error)

	// GetAllVariablesConfig returns the full configuration snapshot.
	GetAllVariablesConfig(ctx context.Context) (*VariablesConfig, error)

	// CreateVariable adds a new variable. It returns
	// ErrVariableAlreadyExists when the name is taken.
	CreateVariable(ctx context.Context, cfg *VariableConfig) error

	// UpdateVariable replaces an existing variable's configuration. It
	// returns ErrVariableNotFound when absent.
	UpdateVariable(ctx context.Context, cfg *VariableConfig) error

	// DeleteVariable removes a variable. It returns ErrVariableNotFound
	// when absent.
	DeleteVariable(ctx context.Context, name string) error
}

// changeNotifier is implemented by providers whose backing configuration can
// change behind the caller's back.
type changeNotifier interface {
	OnChange(func())
}

// batchUpdater is implemented by providers that can apply a whole batch of
// changes in a single call, such as one network round trip.
type batchUpdater interface {
	BatchUpdate(ctx context.Context, changes map[string]*VariableConfig) error
}

// BatchUpdate applies a set of changes to a provider. A nil configuration
// deletes the variable; otherwise the variable is updated when present and
// created when absent. Providers implementing the optional batch capability
// receive the whole batch in one call; for everyone else changes are
// dispatched sequentially in name order, and failures are collected so one
// bad entry does not block the rest.
func BatchUpdate(ctx context.Context, p Provider, changes map[string]*VariableConfig) error {
	if b, ok := p.(batchUpdater); ok {
		return b.BatchUpdate(ctx, changes)
	}

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(changes)) {
		cfg := changes[name]
		var err error
		switch {
		case cfg == nil:
			err = p.DeleteVariable(ctx, name)
		default:
			if _, getErr := p.GetVariableConfig(ctx, name); errors.Is(getErr, ErrVariableNotFound) {
				err = p.CreateVariable(ctx, cfg)
			} else {
				err = p.UpdateVariable(ctx, cfg)
			}
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// resolveOptions carries per-call resolution inputs.
type resolveOptions struct {
	targetingKey string
	attributes   map[string]any
	variant      string
}

// ResolveOption configures a single resolution call.
type ResolveOption func(*resolveOptions)

// WithTargetingKey sets the subject identifier seeding deterministic variant
// selection for this call.
func WithTargetingKey(key string) ResolveOption {
	return func(o *resolveOptions) { o.targetingKey = key }
}

// WithAttributes sets the attribute map evaluated by override conditions.
func WithAttributes(attrs map[string]any) ResolveOption {
	return func(o *resolveOptions) { o.attributes = attrs }
}

// WithVariant bypasses rollout selection and requests a specific variant by
// key. When the variant does not exist, resolution falls back to the normal
// rollout path.
func WithVariant(key string) ResolveOption {
	return func(o *resolveOptions) { o.variant = key }
}

func newResolveOptions(opts []ResolveOption) resolveOptions {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
