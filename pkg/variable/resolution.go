package variable

import "context"

// Reason explains how a resolution result was produced.
type Reason string

const (
	// ReasonResolved means the configuration was found and evaluated. The
	// value may still be nil when the rollout selected "no variant".
	ReasonResolved Reason = "resolved"
	// ReasonContextOverride means a context-scoped override supplied the value.
	ReasonContextOverride Reason = "context_override"
	// ReasonMissingConfig means no configuration snapshot is available yet.
	ReasonMissingConfig Reason = "missing_config"
	// ReasonUnrecognizedVariable means the name matched no variable or alias.
	ReasonUnrecognizedVariable Reason = "unrecognized_variable"
	// ReasonValidationError means the serialized value failed to deserialize.
	ReasonValidationError Reason = "validation_error"
	// ReasonOtherError means an unexpected failure was recovered from.
	ReasonOtherError Reason = "other_error"
	// ReasonNoProvider means no configuration source is wired up.
	ReasonNoProvider Reason = "no_provider"
)

// Resolution is the untyped result of resolving a variable to its serialized
// value. A nil Value means the caller's default applies.
type Resolution struct {
	Name    string
	Value   *string
	Variant string
	Reason  Reason
	Err     error
}

// defaultTagValue marks a resolution that fell back to the compiled-in
// default in propagation tags. The angle brackets keep it from colliding
// with a real variant key.
const defaultTagValue = "<code_default>"

// Resolved is the typed result of Variable.Get. It always carries a usable
// Value: on any failure the variable's default, with Reason and Err
// explaining the degradation.
type Resolved[T any] struct {
	Name      string
	Namespace string
	Value     T
	Variant   string
	Reason    Reason
	Err       error
}

// Tag returns the propagation-tag pair for this resolution:
// "<namespace>.<name>" mapped to the selected variant key, or
// "<code_default>" when the compiled-in default applied.
func (r Resolved[T]) Tag() (key, value string) {
	key = r.Name
	if r.Namespace != "" {
		key = r.Namespace + "." + r.Name
	}
	value = r.Variant
	if value == "" {
		value = defaultTagValue
	}
	return key, value
}

// Attach records the resolution's propagation tag in the returned context so
// downstream resolutions and the tracing boundary observe which variant was
// active for the surrounding operation.
func (r Resolved[T]) Attach(ctx context.Context) context.Context {
	key, value := r.Tag()
	return ContextWithTags(ctx, map[string]string{key: value})
}
