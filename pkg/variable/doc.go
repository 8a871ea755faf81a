// Package variable provides a managed variable resolution engine: dynamic
// configuration and feature variables resolved per call site from weighted
// rollouts, attribute-conditioned overrides, deterministic per-subject
// targeting, and a locally held or remotely polled configuration snapshot.
//
// # Architecture
//
// The package is built around four core concepts:
//
// 1. Conditions - a closed set of eight predicates over attribute maps
// 2. Rollouts - weighted distributions over variant keys, with an implicit
// "use the caller's default" outcome for the unassigned probability mass
// 3. Providers - configuration sources behind a single Provider interface
// 4. Typed handles - Variable[T] values registered once per process that
// resolve, deserialize and cache variant values
//
// Resolution walks a variable's overrides in declaration order; the first
// override whose conditions all match supplies the rollout, otherwise the
// base rollout applies. A targeting key (a user id, a trace id) seeds the
// weighted draw so the same subject consistently sees the same variant.
//
// # Usage
//
// Register a handle at startup and resolve per call site:
//
//	import "github.com/dmitrymomot/varkit/pkg/variable"
//
//	cfg, err := variable.NewVariablesConfig(checkoutFlow)
//	if err != nil {
//		log.Fatal(err)
//	}
//	provider, err := variable.NewLocalProvider(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	variable.SetDefaultProvider(provider)
//
//	checkout, err := variable.New[string](nil, "checkout_flow", "classic")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	res := checkout.Get(ctx, variable.WithTargetingKey(userID))
//	render(res.Value)
//
// # Providers
//
// Four provider implementations ship with the package:
//
// LocalProvider - one in-memory mutable configuration behind a single mutex,
// with the full CRUD surface.
// RemoteProvider - polls an HTTP endpoint, atomically swapping in each new
// snapshot and keeping the previous one on any fetch failure; CRUD calls are
// forwarded to the same API.
// FileProvider - a JSON or YAML file on disk, optionally hot-reloaded when
// the file changes; read-only.
// RedisProvider - a Redis hash shared by several processes, read through a
// short-lived in-memory snapshot.
//
// NoopProvider backs registries with no source wired up: everything resolves
// to the caller's default with ReasonNoProvider, and mutations are
// warning-logged no-ops.
//
// # Error Handling
//
// Variable.Get never fails: every degradation (unknown variable, missing
// snapshot, broken serialized value) substitutes the handle's default and
// reports what happened through the result's Reason and Err fields. CRUD
// contract violations (creating a taken name, updating a missing one) are
// returned as sentinel errors and can be checked with errors.Is. Invalid
// configuration - weights summing above 1.0, rollouts referencing undeclared
// variants, mismatched map keys - fails at construction, never at resolution
// time: a broken artifact should stop a deployment, not degrade one request
// at a time.
//
// # Context Scoping
//
// Overrides, targeting keys, variant bypasses and propagation tags can be
// bound to a context for the duration of one logical operation:
//
//	ctx = variable.ContextWithOverride(ctx, "checkout_flow", "express")
//	ctx = variable.ContextWithTargetingKey(ctx, session.UserID)
//
// Nested scopes merge with innermost-wins semantics, and a variable-specific
// binding always beats a default binding regardless of nesting order. All
// scoping is context-local; concurrent operations never interfere.
//
// # Determinism
//
// With a targeting key, variant selection is a pure function of the variable
// name, the rollout weights and the key: the seed is the FNV-1a 64 hash of
// "name:key", the draw one float64 from a PCG generator walked over
// lexicographically sorted variant keys. Treat that algorithm as part of the
// wire contract when reimplementing resolution elsewhere.
package variable
