package variable

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// LocalProvider serves variables from one in-memory mutable configuration,
// supplied at startup. A single mutex is held for the full duration of every
// public method, so no caller ever observes a partially applied mutation.
type LocalProvider struct {
	mu        sync.Mutex
	config    *VariablesConfig
	callbacks []func()
	log       *slog.Logger
}

// LocalOption configures a LocalProvider.
type LocalOption func(*LocalProvider)

// WithLocalLogger sets the logger used for callback panic reports.
func WithLocalLogger(log *slog.Logger) LocalOption {
	return func(p *LocalProvider) {
		if log != nil {
			p.log = log
		}
	}
}

// NewLocalProvider creates a provider around the given configuration. A nil
// configuration starts empty. The configuration is validated up front;
// invalid configuration is a deployment error and fails construction.
func NewLocalProvider(cfg *VariablesConfig, opts ...LocalOption) (*LocalProvider, error) {
	if cfg == nil {
		cfg = &VariablesConfig{Variables: map[string]*VariableConfig{}}
	}
	if cfg.Variables == nil {
		cfg.Variables = map[string]*VariableConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &LocalProvider{config: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// GetSerializedValue resolves one variable from the in-memory configuration.
func (p *LocalProvider) GetSerializedValue(_ context.Context, name string, opts ...ResolveOption) Resolution {
	o := newResolveOptions(opts)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config.ResolveSerializedValue(name, o.targetingKey, o.attributes)
}

// Refresh is a no-op: the local configuration has no external source.
func (p *LocalProvider) Refresh(context.Context, bool) error { return nil }

// Close is a no-op.
func (p *LocalProvider) Close() error { return nil }

// GetVariableConfig returns a copy of one variable's configuration, looked up
// by canonical name or alias.
func (p *LocalProvider) GetVariableConfig(_ context.Context, name string) (*VariableConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	vc, ok := p.config.Get(name)
	if !ok {
		return nil, ErrVariableNotFound
	}
	return vc.Clone(), nil
}

// GetAllVariablesConfig returns a copy of the full configuration.
func (p *LocalProvider) GetAllVariablesConfig(context.Context) (*VariablesConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := &VariablesConfig{Variables: make(map[string]*VariableConfig, len(p.config.Variables))}
	for name, vc := range p.config.Variables {
		out.Variables[name] = vc.Clone()
	}
	return out, nil
}

// CreateVariable adds a new variable. It fails with ErrVariableAlreadyExists
// when the name is already present and leaves the stored map untouched on
// any failure.
func (p *LocalProvider) CreateVariable(_ context.Context, cfg *VariableConfig) error {
	if cfg == nil {
		return errors.Join(ErrInvalidConfig, errors.New("configuration is nil"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	if _, exists := p.config.Variables[cfg.Name]; exists {
		p.mu.Unlock()
		return ErrVariableAlreadyExists
	}
	p.config.Variables[cfg.Name] = cfg.Clone()
	p.config.invalidateAliases()
	cbs := slices.Clone(p.callbacks)
	p.mu.Unlock()

	p.notify(cbs)
	return nil
}

// UpdateVariable replaces an existing variable's configuration. It fails
// with ErrVariableNotFound when absent.
func (p *LocalProvider) UpdateVariable(_ context.Context, cfg *VariableConfig) error {
	if cfg == nil {
		return errors.Join(ErrInvalidConfig, errors.New("configuration is nil"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	if _, exists := p.config.Variables[cfg.Name]; !exists {
		p.mu.Unlock()
		return ErrVariableNotFound
	}
	p.config.Variables[cfg.Name] = cfg.Clone()
	p.config.invalidateAliases()
	cbs := slices.Clone(p.callbacks)
	p.mu.Unlock()

	p.notify(cbs)
	return nil
}

// DeleteVariable removes a variable. It fails with ErrVariableNotFound when
// absent.
func (p *LocalProvider) DeleteVariable(_ context.Context, name string) error {
	p.mu.Lock()
	if _, exists := p.config.Variables[name]; !exists {
		p.mu.Unlock()
		return ErrVariableNotFound
	}
	delete(p.config.Variables, name)
	p.config.invalidateAliases()
	cbs := slices.Clone(p.callbacks)
	p.mu.Unlock()

	p.notify(cbs)
	return nil
}

// OnChange registers a callback fired after every successful mutation.
func (p *LocalProvider) OnChange(cb func()) {
	if cb == nil {
		return
	}
	p.mu.Lock()
	p.callbacks = append(p.callbacks, cb)
	p.mu.Unlock()
}

// notify runs callbacks outside the provider lock. One callback panicking
// must not prevent the others from running.
func (p *LocalProvider) notify(cbs []func()) {
	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("variable change callback panicked", slog.Any("panic", r))
				}
			}()
			cb()
		}()
	}
}
