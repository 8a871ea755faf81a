package variable

import (
	"errors"
	"fmt"
	"hash/fnv"
	"maps"
	"math"
	"math/rand/v2"
	"slices"
)

// weightEpsilon absorbs float accumulation noise when checking that rollout
// weights sum to at most 1.0.
const weightEpsilon = 1e-9

// Rollout is a weighted distribution over variant keys. The unassigned
// probability mass (1 - sum of weights) implicitly selects "no variant",
// meaning the caller's compiled-in default applies.
type Rollout struct {
	Variants map[string]float64 `json:"variants" yaml:"variants"`
}

// NewRollout builds a rollout and validates its weights. Weight violations
// are configuration errors and must fail fast, never surface at selection
// time.
func NewRollout(variants map[string]float64) (Rollout, error) {
	r := Rollout{Variants: maps.Clone(variants)}
	if err := r.Validate(); err != nil {
		return Rollout{}, err
	}
	return r, nil
}

// Validate checks that every weight is a finite non-negative number and that
// the weights sum to at most 1.0.
func (r Rollout) Validate() error {
	var sum float64
	for key, w := range r.Variants {
		if err := validateName(key); err != nil {
			return err
		}
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return errors.Join(ErrInvalidRollout, fmt.Errorf("variant %q has weight %v", key, w))
		}
		sum += w
	}
	if sum > 1.0+weightEpsilon {
		return errors.Join(ErrInvalidRollout, fmt.Errorf("weights sum to %v, must not exceed 1.0", sum))
	}
	return nil
}

// SelectVariant draws one variant key from the distribution. A nil seed uses
// non-reproducible randomness; a non-nil seed makes the draw a pure function
// of (variants, weights, seed). The second return value is false when the
// implicit "no variant" outcome is drawn.
//
// Determinism contract: variant keys are walked in lexicographic order and a
// single float64 in [0, 1) is consumed from a PCG generator seeded with the
// given seed. Identical inputs always yield the identical choice, including
// across process restarts.
func (r Rollout) SelectVariant(seed *uint64) (string, bool) {
	if len(r.Variants) == 0 {
		return "", false
	}

	var draw float64
	if seed != nil {
		draw = rand.New(rand.NewPCG(*seed, *seed)).Float64()
	} else {
		draw = rand.Float64()
	}

	var cum float64
	for _, key := range slices.Sorted(maps.Keys(r.Variants)) {
		cum += r.Variants[key]
		if draw < cum {
			return key, true
		}
	}
	return "", false
}

// rolloutSeed derives a stable selection seed from a variable name and a
// targeting key, so the same subject consistently sees the same variant.
func rolloutSeed(name, targetingKey string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	h.Write([]byte{':'})
	h.Write([]byte(targetingKey))
	return h.Sum64()
}
