// Package pv implements the control variable store: named, typed process
// variables with domain metadata, validated external writes, and atomic
// multi-variable updates for the simulation engine.
package pv

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the type of a control variable.
type Kind int

const (
	KindFloat Kind = iota
	KindEnum
	KindBool
)

// String returns the wire name for a kind.
func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindEnum:
		return "enum"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a tagged variant holding one control variable value.
// Only the field matching Kind is meaningful.
type Value struct {
	Kind  Kind
	F     float64
	Index int
	Flag  bool
}

// Float wraps a float value.
func Float(v float64) Value { return Value{Kind: KindFloat, F: v} }

// Enum wraps an enum index.
func Enum(i int) Value { return Value{Kind: KindEnum, Index: i} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, Flag: b} }

// Equal reports whether two values hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindFloat:
		return v.F == o.F
	case KindEnum:
		return v.Index == o.Index
	case KindBool:
		return v.Flag == o.Flag
	}
	return false
}

// Definition describes one control variable: its name, type, domain,
// default, and external write access.
type Definition struct {
	Name     string
	Kind     Kind
	Unit     string
	Doc      string
	Min, Max float64  // float domain, inclusive
	Labels   []string // enum labels, index order
	Default  Value
	ReadOnly bool // rejects external writes; the engine writes via Update
}

// Parse converts a raw request string into a Value of the definition's kind.
// Enum requests are accepted either by label or by numeric index (the index
// may arrive as a float, e.g. "1.0"). Out-of-domain enum indexes and
// unknown labels are errors; float requests are parsed here and clamped
// by the store on write.
func (d *Definition) Parse(raw string) (Value, error) {
	raw = strings.TrimSpace(raw)
	switch d.Kind {
	case KindFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%s: not a number: %q", d.Name, raw)
		}
		return Float(f), nil

	case KindEnum:
		for i, label := range d.Labels {
			if raw == label {
				return Enum(i), nil
			}
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%s: unknown enum value %q", d.Name, raw)
		}
		i := int(f)
		if i < 0 || i >= len(d.Labels) {
			return Value{}, fmt.Errorf("%s: enum index %d out of range [0,%d]", d.Name, i, len(d.Labels)-1)
		}
		return Enum(i), nil

	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, fmt.Errorf("%s: not a boolean: %q", d.Name, raw)
		}
		return Bool(b), nil
	}
	return Value{}, fmt.Errorf("%s: unsupported kind %v", d.Name, d.Kind)
}

// Format renders a value as its wire string: full-precision decimal for
// floats, the label for enums, "true"/"false" for booleans.
func (d *Definition) Format(v Value) string {
	switch d.Kind {
	case KindFloat:
		return strconv.FormatFloat(v.F, 'f', -1, 64)
	case KindEnum:
		if v.Index >= 0 && v.Index < len(d.Labels) {
			return d.Labels[v.Index]
		}
		return strconv.Itoa(v.Index)
	case KindBool:
		return strconv.FormatBool(v.Flag)
	}
	return ""
}

// Interface returns the value as a JSON-friendly Go value.
func (d *Definition) Interface(v Value) interface{} {
	switch d.Kind {
	case KindFloat:
		return v.F
	case KindEnum:
		if v.Index >= 0 && v.Index < len(d.Labels) {
			return d.Labels[v.Index]
		}
		return v.Index
	case KindBool:
		return v.Flag
	}
	return nil
}

// clamp folds a parsed value into the variable's domain.
func (d *Definition) clamp(v Value) Value {
	if d.Kind == KindFloat {
		if v.F < d.Min {
			v.F = d.Min
		}
		if v.F > d.Max {
			v.F = d.Max
		}
	}
	return v
}
