package risk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// ExternalSignal is risk data the caller already holds about the counterparty,
// e.g. a credit bureau score. The engine only echoes it into the result.
type ExternalSignal struct {
	Source  string           `json:"source"`
	Kind    string           `json:"kind,omitempty"`
	Details map[string]Value `json:"details,omitempty"`
}

type valueKind uint8

const (
	kindNone valueKind = iota
	kindString
	kindNumber
	kindBool
)

// Value is a JSON primitive: a string, a finite number or a bool.
type Value struct {
	kind valueKind
	str  string
	num  float64
	b    bool
}

func StringValue(s string) Value  { return Value{kind: kindString, str: s} }
func NumberValue(n float64) Value { return Value{kind: kindNumber, num: n} }
func BoolValue(b bool) Value      { return Value{kind: kindBool, b: b} }

func (v Value) String() (string, bool) { return v.str, v.kind == kindString }
func (v Value) Number() (float64, bool) { return v.num, v.kind == kindNumber }
func (v Value) Bool() (bool, bool)      { return v.b, v.kind == kindBool }

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindString:
		return json.Marshal(v.str)
	case kindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("signal value %v is not finite", v.num)
		}
		return json.Marshal(v.num)
	case kindBool:
		return json.Marshal(v.b)
	default:
		return nil, fmt.Errorf("empty signal value")
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*v = StringValue(t)
	case bool:
		*v = BoolValue(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return fmt.Errorf("signal value %s: %w", t, err)
		}
		*v = NumberValue(n)
	default:
		return fmt.Errorf("signal value must be a string, number or bool, got %s", data)
	}
	return nil
}

func (s *ExternalSignal) validate() error {
	for key, v := range s.Details {
		if n, ok := v.Number(); ok && (math.IsNaN(n) || math.IsInf(n, 0)) {
			return invalid("clientRiskSignal", "detail %q is not a finite number", key)
		}
		if v.kind == kindNone {
			return invalid("clientRiskSignal", "detail %q has no value", key)
		}
	}
	return nil
}

func (s *ExternalSignal) clone() ExternalSignal {
	out := ExternalSignal{Source: s.Source, Kind: s.Kind}
	if len(s.Details) > 0 {
		out.Details = make(map[string]Value, len(s.Details))
		for k, v := range s.Details {
			out.Details[k] = v
		}
	}
	return out
}
