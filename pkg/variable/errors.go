package variable

import "errors"

// Predefined errors for the variable package.
var (
	// ErrVariableAlreadyExists indicates an attempt to create a variable under a name that is taken.
	ErrVariableAlreadyExists = errors.New("variable already exists")

	// ErrVariableNotFound indicates that the requested variable was not found.
	ErrVariableNotFound = errors.New("variable not found")

	// ErrVariableAlreadyRegistered indicates a second registration of a typed handle under the same name.
	ErrVariableAlreadyRegistered = errors.New("variable handle already registered")

	// ErrInvalidVariableName indicates a name or variant key that violates the identifier syntax.
	ErrInvalidVariableName = errors.New("invalid variable name")

	// ErrInvalidCondition indicates a malformed override condition.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrInvalidRollout indicates rollout weights that are negative or sum above 1.0.
	ErrInvalidRollout = errors.New("invalid rollout weights")

	// ErrUnknownVariantKey indicates a rollout referencing a variant key that is not declared.
	ErrUnknownVariantKey = errors.New("rollout references unknown variant key")

	// ErrInvalidConfig indicates a variable configuration that violates construction invariants.
	ErrInvalidConfig = errors.New("invalid variable configuration")

	// ErrReadOnlyProvider indicates a mutation attempted on a provider that cannot persist changes.
	ErrReadOnlyProvider = errors.New("provider is read-only")

	// ErrProviderClosed indicates an operation on a provider after Close.
	ErrProviderClosed = errors.New("provider is closed")

	// ErrFetchFailed indicates that a remote configuration fetch did not produce a usable snapshot.
	ErrFetchFailed = errors.New("failed to fetch variables configuration")

	// ErrInvalidPayload indicates a remote payload that does not decode into a valid configuration.
	ErrInvalidPayload = errors.New("invalid variables payload")
)
