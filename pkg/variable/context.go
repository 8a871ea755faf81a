package variable

import (
	"context"
	"maps"
)

// OverrideFunc computes a context-scoped override value on demand, with the
// same inputs a resolve-function default receives.
type OverrideFunc func(targetingKey string, attrs map[string]any) any

// scope is one immutable link in a chain of context-scoped bindings. Each
// ContextWith* call prepends a new link, so lookups walk from the innermost
// scope outward and nested scopes merge with innermost-wins semantics.
type scope struct {
	parent *scope

	overrideName string
	overrideVal  any
	overrideFn   OverrideFunc
	hasOverride  bool

	variableKeyName string
	variableKey     string

	defaultKey    string
	hasDefaultKey bool

	variantName string
	variantKey  string

	tags map[string]string
}

type scopeCtxKey struct{}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeCtxKey{}).(*scope)
	return s
}

func withScope(ctx context.Context, s *scope) context.Context {
	s.parent = scopeFrom(ctx)
	return context.WithValue(ctx, scopeCtxKey{}, s)
}

// ContextWithOverride binds a fixed override value to a variable name for the
// lifetime of the returned context. Overrides take absolute precedence over
// provider resolution.
func ContextWithOverride(ctx context.Context, name string, value any) context.Context {
	return withScope(ctx, &scope{overrideName: name, overrideVal: value, hasOverride: true})
}

// ContextWithOverrideFunc binds an override function to a variable name for
// the lifetime of the returned context.
func ContextWithOverrideFunc(ctx context.Context, name string, fn OverrideFunc) context.Context {
	return withScope(ctx, &scope{overrideName: name, overrideFn: fn, hasOverride: true})
}

// ContextWithTargetingKey sets the default targeting key for all variables
// resolved under the returned context. A variable-specific key bound with
// ContextWithVariableTargetingKey wins over it regardless of nesting order.
func ContextWithTargetingKey(ctx context.Context, key string) context.Context {
	return withScope(ctx, &scope{defaultKey: key, hasDefaultKey: true})
}

// ContextWithVariableTargetingKey sets the targeting key for one variable
// resolved under the returned context.
func ContextWithVariableTargetingKey(ctx context.Context, name, key string) context.Context {
	return withScope(ctx, &scope{variableKeyName: name, variableKey: key})
}

// ContextWithVariant requests a specific variant for one variable resolved
// under the returned context, bypassing rollout selection.
func ContextWithVariant(ctx context.Context, name, variantKey string) context.Context {
	return withScope(ctx, &scope{variantName: name, variantKey: variantKey})
}

// ContextWithTags records propagation tags merged into the attribute map of
// every resolution under the returned context.
func ContextWithTags(ctx context.Context, tags map[string]string) context.Context {
	return withScope(ctx, &scope{tags: maps.Clone(tags)})
}

// overrideFromContext returns the innermost override bound to name.
func overrideFromContext(ctx context.Context, name string) (value any, fn OverrideFunc, ok bool) {
	for s := scopeFrom(ctx); s != nil; s = s.parent {
		if s.hasOverride && s.overrideName == name {
			return s.overrideVal, s.overrideFn, true
		}
	}
	return nil, nil, false
}

// targetingKeyFromContext returns the effective context-scoped targeting key
// for name: the innermost variable-specific binding beats any default
// binding regardless of nesting order.
func targetingKeyFromContext(ctx context.Context, name string) (string, bool) {
	defaultKey := ""
	hasDefault := false
	for s := scopeFrom(ctx); s != nil; s = s.parent {
		if s.variableKeyName == name && s.variableKeyName != "" {
			return s.variableKey, true
		}
		if !hasDefault && s.hasDefaultKey {
			defaultKey, hasDefault = s.defaultKey, true
		}
	}
	return defaultKey, hasDefault
}

// variantFromContext returns the innermost variant bypass bound to name.
func variantFromContext(ctx context.Context, name string) (string, bool) {
	for s := scopeFrom(ctx); s != nil; s = s.parent {
		if s.variantName == name && s.variantName != "" {
			return s.variantKey, true
		}
	}
	return "", false
}

// tagsFromContext merges all tag scopes, innermost wins.
func tagsFromContext(ctx context.Context) map[string]string {
	var merged map[string]string
	for s := scopeFrom(ctx); s != nil; s = s.parent {
		for k, v := range s.tags {
			if merged == nil {
				merged = make(map[string]string)
			}
			if _, ok := merged[k]; !ok {
				merged[k] = v
			}
		}
	}
	return merged
}
