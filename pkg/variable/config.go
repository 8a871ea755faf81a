package variable

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sync"
)

// nameRe constrains variable names, variant keys and aliases.
var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateName(name string) error {
	if !nameRe.MatchString(name) {
		return errors.Join(ErrInvalidVariableName, fmt.Errorf("%q must match %s", name, nameRe))
	}
	return nil
}

// Variant is one concrete value a variable can resolve to. The value is
// carried as an opaque serialized string; the engine never interprets it.
type Variant struct {
	Key             string `json:"key" yaml:"key"`
	SerializedValue string `json:"serialized_value" yaml:"serialized_value"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	Version         string `json:"version,omitempty" yaml:"version,omitempty"`
}

// RolloutOverride is a conditional rollout. All conditions must match for the
// override to apply.
type RolloutOverride struct {
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Rollout    Rollout     `json:"rollout" yaml:"rollout"`
}

// matches reports whether every condition holds for the given attributes.
func (o *RolloutOverride) matches(attrs map[string]any) bool {
	for i := range o.Conditions {
		if !o.Conditions[i].Matches(attrs) {
			return false
		}
	}
	return true
}

// VariableConfig is the full configuration of one managed variable: its
// variants, the base rollout, ordered conditional overrides (first match
// wins) and optional metadata.
type VariableConfig struct {
	Name        string             `json:"name" yaml:"name"`
	Variants    map[string]Variant `json:"variants" yaml:"variants"`
	Rollout     Rollout            `json:"rollout" yaml:"rollout"`
	Overrides   []RolloutOverride  `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	JSONSchema  any                `json:"json_schema,omitempty" yaml:"json_schema,omitempty"`
	Aliases     []string           `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Example     string             `json:"example,omitempty" yaml:"example,omitempty"`
}

// NewVariableConfig builds a validated variable configuration. Construction
// failures indicate a broken deployment artifact and must be treated as
// fatal; they never surface at resolution time.
func NewVariableConfig(name string, variants []Variant, rollout Rollout, opts ...ConfigOption) (*VariableConfig, error) {
	cfg := &VariableConfig{
		Name:     name,
		Variants: make(map[string]Variant, len(variants)),
		Rollout:  rollout,
	}
	for _, v := range variants {
		cfg.Variants[v.Key] = v
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigOption configures optional VariableConfig fields at construction.
type ConfigOption func(*VariableConfig)

// WithOverrides sets the ordered conditional overrides.
func WithOverrides(overrides ...RolloutOverride) ConfigOption {
	return func(c *VariableConfig) { c.Overrides = overrides }
}

// WithDescription sets the human-readable description.
func WithDescription(description string) ConfigOption {
	return func(c *VariableConfig) { c.Description = description }
}

// WithAliases sets alternate names that resolve to this variable.
func WithAliases(aliases ...string) ConfigOption {
	return func(c *VariableConfig) { c.Aliases = aliases }
}

// WithJSONSchema attaches a JSON schema describing the variant values.
func WithJSONSchema(schema any) ConfigOption {
	return func(c *VariableConfig) { c.JSONSchema = schema }
}

// WithExample sets an example serialized value.
func WithExample(example string) ConfigOption {
	return func(c *VariableConfig) { c.Example = example }
}

// Validate checks all construction invariants: identifier syntax, variant map
// keys matching each variant's own key, rollout weights, and every rollout or
// override key existing in Variants. Override conditions are validated and
// their patterns compiled.
func (c *VariableConfig) Validate() error {
	if err := validateName(c.Name); err != nil {
		return err
	}
	for key, v := range c.Variants {
		if err := validateName(key); err != nil {
			return err
		}
		if v.Key != key {
			return errors.Join(ErrInvalidConfig,
				fmt.Errorf("variant stored under key %q declares key %q", key, v.Key))
		}
	}
	if err := c.validateRollout(c.Rollout); err != nil {
		return err
	}
	for i := range c.Overrides {
		o := &c.Overrides[i]
		for j := range o.Conditions {
			if err := o.Conditions[j].Validate(); err != nil {
				return err
			}
		}
		if err := c.validateRollout(o.Rollout); err != nil {
			return err
		}
	}
	for _, alias := range c.Aliases {
		if err := validateName(alias); err != nil {
			return err
		}
	}
	return nil
}

func (c *VariableConfig) validateRollout(r Rollout) error {
	if err := r.Validate(); err != nil {
		return errors.Join(ErrInvalidConfig, fmt.Errorf("variable %q: %w", c.Name, err))
	}
	for key := range r.Variants {
		if _, ok := c.Variants[key]; !ok {
			return errors.Join(ErrInvalidConfig, ErrUnknownVariantKey,
				fmt.Errorf("variable %q references variant %q", c.Name, key))
		}
	}
	return nil
}

// Clone returns a deep copy so providers can hand out configurations without
// exposing their internal state to mutation.
func (c *VariableConfig) Clone() *VariableConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Variants = maps.Clone(c.Variants)
	cp.Overrides = slices.Clone(c.Overrides)
	for i := range cp.Overrides {
		cp.Overrides[i].Conditions = slices.Clone(c.Overrides[i].Conditions)
		cp.Overrides[i].Rollout.Variants = maps.Clone(c.Overrides[i].Rollout.Variants)
	}
	cp.Rollout.Variants = maps.Clone(c.Rollout.Variants)
	cp.Aliases = slices.Clone(c.Aliases)
	return &cp
}

// ResolveVariant picks the variant for one call site. The first override
// whose conditions all match the attributes supplies the rollout; otherwise
// the base rollout applies. A non-empty targeting key seeds the draw so the
// same subject consistently sees the same variant. The second return value
// is false when no variant is selected and the caller's default applies.
func (c *VariableConfig) ResolveVariant(targetingKey string, attrs map[string]any) (Variant, bool) {
	rollout := c.Rollout
	for i := range c.Overrides {
		if c.Overrides[i].matches(attrs) {
			rollout = c.Overrides[i].Rollout
			break
		}
	}

	var seed *uint64
	if targetingKey != "" {
		s := rolloutSeed(c.Name, targetingKey)
		seed = &s
	}

	key, ok := rollout.SelectVariant(seed)
	if !ok {
		return Variant{}, false
	}
	// Present by construction: Validate rejects dangling rollout keys.
	return c.Variants[key], true
}

// VariablesConfig is one complete configuration snapshot: every managed
// variable keyed by name, plus a lazily built alias index.
type VariablesConfig struct {
	Variables map[string]*VariableConfig `json:"variables" yaml:"variables"`

	aliasMu    sync.Mutex
	aliasIndex map[string]string
}

// NewVariablesConfig builds a validated snapshot from the given variable
// configurations.
func NewVariablesConfig(configs ...*VariableConfig) (*VariablesConfig, error) {
	cfg := &VariablesConfig{Variables: make(map[string]*VariableConfig, len(configs))}
	for _, c := range configs {
		if c == nil {
			continue
		}
		if _, ok := cfg.Variables[c.Name]; ok {
			return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("duplicate variable %q", c.Name))
		}
		cfg.Variables[c.Name] = c
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every variable configuration and that each map key equals
// the variable's own name.
func (c *VariablesConfig) Validate() error {
	for name, vc := range c.Variables {
		if vc == nil {
			return errors.Join(ErrInvalidConfig, fmt.Errorf("variable %q is nil", name))
		}
		if vc.Name != name {
			return errors.Join(ErrInvalidConfig,
				fmt.Errorf("variable stored under name %q declares name %q", name, vc.Name))
		}
		if err := vc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Get looks up a variable by canonical name or alias.
func (c *VariablesConfig) Get(name string) (*VariableConfig, bool) {
	if vc, ok := c.Variables[name]; ok {
		return vc, true
	}
	if canonical, ok := c.aliases()[name]; ok {
		vc, ok := c.Variables[canonical]
		return vc, ok
	}
	return nil, false
}

// Len returns the number of managed variables.
func (c *VariablesConfig) Len() int {
	return len(c.Variables)
}

// aliases returns the alias index, building it on first use after any
// structural mutation.
func (c *VariablesConfig) aliases() map[string]string {
	c.aliasMu.Lock()
	defer c.aliasMu.Unlock()
	if c.aliasIndex == nil {
		idx := make(map[string]string)
		for name, vc := range c.Variables {
			for _, alias := range vc.Aliases {
				idx[alias] = name
			}
		}
		c.aliasIndex = idx
	}
	return c.aliasIndex
}

// invalidateAliases marks the alias index dirty. Providers call it after any
// structural mutation to Variables.
func (c *VariablesConfig) invalidateAliases() {
	c.aliasMu.Lock()
	c.aliasIndex = nil
	c.aliasMu.Unlock()
}

// ResolveSerializedValue resolves one variable to its serialized value. A nil
// result value with ReasonResolved means no variant was selected and the
// caller's compiled-in default applies.
func (c *VariablesConfig) ResolveSerializedValue(name, targetingKey string, attrs map[string]any) Resolution {
	vc, ok := c.Get(name)
	if !ok {
		return Resolution{Name: name, Reason: ReasonUnrecognizedVariable}
	}
	v, ok := vc.ResolveVariant(targetingKey, attrs)
	if !ok {
		return Resolution{Name: name, Reason: ReasonResolved}
	}
	value := v.SerializedValue
	return Resolution{Name: name, Value: &value, Variant: v.Key, Reason: ReasonResolved}
}
