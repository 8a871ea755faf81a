package variable

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"gopkg.in/yaml.v3"
)

// ConditionKind identifies one of the supported condition predicates.
type ConditionKind string

// Supported condition kinds. The set is closed: overrides cannot express
// anything beyond these eight predicates.
const (
	KindValueEquals     ConditionKind = "value_equals"
	KindValueNotEquals  ConditionKind = "value_not_equals"
	KindValueIn         ConditionKind = "value_in"
	KindValueNotIn      ConditionKind = "value_not_in"
	KindValueMatches    ConditionKind = "value_matches"
	KindValueNotMatches ConditionKind = "value_not_matches"
	KindKeyPresent      ConditionKind = "key_present"
	KindKeyAbsent       ConditionKind = "key_absent"
)

// absentValue marks an attribute key that is missing from the attribute map.
// It is never equal to any real attribute value, including nil, so
// equals/not-equals conditions behave correctly when the key is absent.
type absentValue struct{}

var absent = absentValue{}

// Condition is a single predicate over an attribute map. Which payload field
// is meaningful depends on Kind: Value for equals/not-equals, Values for
// in/not-in, Pattern for the regex kinds. Presence kinds carry no payload.
type Condition struct {
	Kind      ConditionKind `json:"kind" yaml:"kind"`
	Attribute string        `json:"attribute" yaml:"attribute"`
	Value     any           `json:"value,omitempty" yaml:"value,omitempty"`
	Values    []any         `json:"values,omitempty" yaml:"values,omitempty"`
	Pattern   string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	re *regexp.Regexp
}

// NewValueEquals matches when the attribute is present and equal to value.
func NewValueEquals(attribute string, value any) Condition {
	return Condition{Kind: KindValueEquals, Attribute: attribute, Value: value}
}

// NewValueNotEquals matches when the attribute is absent or not equal to value.
func NewValueNotEquals(attribute string, value any) Condition {
	return Condition{Kind: KindValueNotEquals, Attribute: attribute, Value: value}
}

// NewValueIn matches when the attribute is present and equal to one of values.
func NewValueIn(attribute string, values ...any) Condition {
	return Condition{Kind: KindValueIn, Attribute: attribute, Values: values}
}

// NewValueNotIn matches when the attribute is absent or equal to none of values.
func NewValueNotIn(attribute string, values ...any) Condition {
	return Condition{Kind: KindValueNotIn, Attribute: attribute, Values: values}
}

// NewValueMatches matches when the attribute is a string matching pattern.
func NewValueMatches(attribute, pattern string) Condition {
	return Condition{Kind: KindValueMatches, Attribute: attribute, Pattern: pattern}
}

// NewValueNotMatches matches when the attribute is absent. A present value
// that is not a string cannot confirm the absence of a match, so it reports
// false, mirroring NewValueMatches.
func NewValueNotMatches(attribute, pattern string) Condition {
	return Condition{Kind: KindValueNotMatches, Attribute: attribute, Pattern: pattern}
}

// NewKeyPresent matches when the attribute key exists, whatever its value.
func NewKeyPresent(attribute string) Condition {
	return Condition{Kind: KindKeyPresent, Attribute: attribute}
}

// NewKeyAbsent matches when the attribute key does not exist.
func NewKeyAbsent(attribute string) Condition {
	return Condition{Kind: KindKeyAbsent, Attribute: attribute}
}

// Validate checks the condition shape and compiles the regex pattern for the
// regex kinds. It must be called before Matches for conditions built by hand;
// decoding from JSON or YAML validates automatically.
func (c *Condition) Validate() error {
	if c.Attribute == "" {
		return errors.Join(ErrInvalidCondition, errors.New("attribute is required"))
	}
	switch c.Kind {
	case KindValueEquals, KindValueNotEquals, KindValueIn, KindValueNotIn,
		KindKeyPresent, KindKeyAbsent:
		return nil
	case KindValueMatches, KindValueNotMatches:
		if c.Pattern == "" {
			return errors.Join(ErrInvalidCondition, errors.New("pattern is required for regex conditions"))
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return errors.Join(ErrInvalidCondition, err)
		}
		c.re = re
		return nil
	default:
		return errors.Join(ErrInvalidCondition, fmt.Errorf("unknown condition kind %q", c.Kind))
	}
}

// Matches reports whether the condition holds for the given attributes.
// It never panics; an uncompiled or invalid regex simply does not match.
func (c *Condition) Matches(attrs map[string]any) bool {
	actual := any(absent)
	if v, ok := attrs[c.Attribute]; ok {
		actual = v
	}

	switch c.Kind {
	case KindValueEquals:
		return actual != any(absent) && attrValuesEqual(actual, c.Value)
	case KindValueNotEquals:
		return actual == any(absent) || !attrValuesEqual(actual, c.Value)
	case KindValueIn:
		if actual == any(absent) {
			return false
		}
		for _, v := range c.Values {
			if attrValuesEqual(actual, v) {
				return true
			}
		}
		return false
	case KindValueNotIn:
		if actual == any(absent) {
			return true
		}
		for _, v := range c.Values {
			if attrValuesEqual(actual, v) {
				return false
			}
		}
		return true
	case KindValueMatches:
		s, ok := actual.(string)
		return ok && c.matchString(s)
	case KindValueNotMatches:
		if actual == any(absent) {
			return true
		}
		// A present non-string value cannot confirm the absence of a match.
		s, ok := actual.(string)
		return ok && !c.matchString(s)
	case KindKeyPresent:
		return actual != any(absent)
	case KindKeyAbsent:
		return actual == any(absent)
	default:
		return false
	}
}

func (c *Condition) matchString(s string) bool {
	re := c.re
	if re == nil {
		var err error
		if re, err = regexp.Compile(c.Pattern); err != nil {
			return false
		}
	}
	return re.MatchString(s)
}

// attrValuesEqual compares an attribute value against a configured one.
// Numeric values are compared by magnitude so that config decoded from YAML
// (ints) agrees with config decoded from JSON (float64) and with whatever
// numeric type the caller put into the attribute map.
func attrValuesEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// conditionWire mirrors Condition for (de)serialization without recursing
// into the custom codec methods.
type conditionWire struct {
	Kind      ConditionKind `json:"kind" yaml:"kind"`
	Attribute string        `json:"attribute" yaml:"attribute"`
	Value     any           `json:"value,omitempty" yaml:"value,omitempty"`
	Values    []any         `json:"values,omitempty" yaml:"values,omitempty"`
	Pattern   string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// UnmarshalJSON decodes and validates a condition, compiling its pattern.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var w conditionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Condition{Kind: w.Kind, Attribute: w.Attribute, Value: w.Value, Values: w.Values, Pattern: w.Pattern}
	return c.Validate()
}

// MarshalJSON emits the wire shape of the condition.
func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(conditionWire{
		Kind:      c.Kind,
		Attribute: c.Attribute,
		Value:     c.Value,
		Values:    c.Values,
		Pattern:   c.Pattern,
	})
}

// UnmarshalYAML decodes and validates a condition from a YAML mapping.
func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	var w conditionWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	*c = Condition{Kind: w.Kind, Attribute: w.Attribute, Value: w.Value, Values: w.Values, Pattern: w.Pattern}
	return c.Validate()
}
