package variable

import (
	"context"
	"log/slog"
)

// NoopProvider is the provider used when no configuration source is wired
// up. Every resolution reports ReasonNoProvider so callers fall back to
// their compiled-in defaults, and every mutation is a warning-logged no-op.
// The system keeps functioning, degraded.
type NoopProvider struct {
	log *slog.Logger
}

// NoopOption configures a NoopProvider.
type NoopOption func(*NoopProvider)

// WithNoopLogger sets the logger used for mutation warnings.
func WithNoopLogger(log *slog.Logger) NoopOption {
	return func(p *NoopProvider) {
		if log != nil {
			p.log = log
		}
	}
}

// NewNoopProvider creates a provider that resolves nothing.
func NewNoopProvider(opts ...NoopOption) *NoopProvider {
	p := &NoopProvider{log: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetSerializedValue always reports that no provider is configured.
func (p *NoopProvider) GetSerializedValue(_ context.Context, name string, _ ...ResolveOption) Resolution {
	return Resolution{Name: name, Reason: ReasonNoProvider}
}

// Refresh is a no-op.
func (p *NoopProvider) Refresh(context.Context, bool) error { return nil }

// Close is a no-op.
func (p *NoopProvider) Close() error { return nil }

// GetVariableConfig always reports the variable as not found.
func (p *NoopProvider) GetVariableConfig(_ context.Context, _ string) (*VariableConfig, error) {
	return nil, ErrVariableNotFound
}

// GetAllVariablesConfig returns an empty snapshot.
func (p *NoopProvider) GetAllVariablesConfig(context.Context) (*VariablesConfig, error) {
	return &VariablesConfig{Variables: map[string]*VariableConfig{}}, nil
}

// CreateVariable warns and drops the change.
func (p *NoopProvider) CreateVariable(_ context.Context, cfg *VariableConfig) error {
	name := ""
	if cfg != nil {
		name = cfg.Name
	}
	p.log.Warn("no variable provider configured, create ignored", slog.String("variable", name))
	return nil
}

// UpdateVariable warns and drops the change.
func (p *NoopProvider) UpdateVariable(_ context.Context, cfg *VariableConfig) error {
	name := ""
	if cfg != nil {
		name = cfg.Name
	}
	p.log.Warn("no variable provider configured, update ignored", slog.String("variable", name))
	return nil
}

// DeleteVariable warns and drops the change.
func (p *NoopProvider) DeleteVariable(_ context.Context, name string) error {
	p.log.Warn("no variable provider configured, delete ignored", slog.String("variable", name))
	return nil
}
