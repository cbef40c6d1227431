// Package scalar implements the closed value type legal for observed
// properties and named-value values: string, finite number, boolean,
// null, or absent. Non-scalar values are rejected rather than passed
// through with a generic JSON fallback.
package scalar

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/gosynchro/synchro/internal/synerr"
)

// Kind identifies which variant a Scalar holds.
type Kind int

const (
	KindAbsent Kind = iota
	KindNull
	KindString
	KindNumber
	KindBool
)

// Scalar is a closed sum type: exactly one of Kind's variants is active.
// The zero value is Absent.
type Scalar struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// Absent represents "no value" — distinct from JSON null.
func Absent() Scalar { return Scalar{kind: KindAbsent} }

// Null represents the JSON null value.
func Null() Scalar { return Scalar{kind: KindNull} }

// String wraps a string value.
func String(s string) Scalar { return Scalar{kind: KindString, str: s} }

// Number wraps a finite float64. NaN and Inf are not legal scalars.
func Number(n float64) Scalar { return Scalar{kind: KindNumber, num: n} }

// Bool wraps a boolean value.
func Bool(b bool) Scalar { return Scalar{kind: KindBool, b: b} }

func (s Scalar) Kind() Kind      { return s.kind }
func (s Scalar) IsAbsent() bool  { return s.kind == KindAbsent }
func (s Scalar) IsNull() bool    { return s.kind == KindNull }
func (s Scalar) StringVal() (string, bool) {
	if s.kind != KindString {
		return "", false
	}
	return s.str, true
}
func (s Scalar) NumberVal() (float64, bool) {
	if s.kind != KindNumber {
		return 0, false
	}
	return s.num, true
}
func (s Scalar) BoolVal() (bool, bool) {
	if s.kind != KindBool {
		return false, false
	}
	return s.b, true
}

// IsZero reports whether the Scalar is Absent. encoding/json's omitzero
// uses it, which is how "absent" is expressed on the wire: the key is
// omitted entirely, keeping Absent distinct from JSON null.
func (s Scalar) IsZero() bool { return s.kind == KindAbsent }

// Equal reports value identity: same kind and same underlying value.
func (s Scalar) Equal(other Scalar) bool {
	if s.kind != other.kind {
		return false
	}
	switch s.kind {
	case KindString:
		return s.str == other.str
	case KindNumber:
		return s.num == other.num
	case KindBool:
		return s.b == other.b
	default:
		return true // Absent == Absent, Null == Null
	}
}

// Encode produces the deterministic token used in Item/Set checksums:
// "null" / "absent" / quoted string / decimal number / boolean literal.
func (s Scalar) Encode() string {
	switch s.kind {
	case KindAbsent:
		return "absent"
	case KindNull:
		return "null"
	case KindString:
		return strconv.Quote(s.str)
	case KindNumber:
		return strconv.FormatFloat(s.num, 'g', -1, 64)
	case KindBool:
		if s.b {
			return "true"
		}
		return "false"
	default:
		return "absent"
	}
}

// MarshalJSON encodes the Scalar the way it appears on the wire: absent
// scalars marshal to JSON null (the wire grammar has no "absent" literal
// outside of documentation; a property simply reads back as null/missing).
func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case KindAbsent, KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(s.str)
	case KindNumber:
		return json.Marshal(s.num)
	case KindBool:
		return json.Marshal(s.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON parses any scalar JSON value. It rejects arrays and
// objects with ErrInvalidArgument — the Open Question resolution to
// reject non-scalars at the wire.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", synerr.ErrInvalidArgument, err)
	}
	v, err := FromAny(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// FromAny converts a decoded JSON value (string, float64, bool, nil) into
// a Scalar. Any other runtime type — map, slice — is rejected.
func FromAny(v any) (Scalar, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Scalar{}, fmt.Errorf("%w: non-finite number", synerr.ErrInvalidArgument)
		}
		return Number(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Scalar{}, fmt.Errorf("%w: %v", synerr.ErrInvalidArgument, err)
		}
		return Number(f), nil
	default:
		return Scalar{}, fmt.Errorf("%w: non-scalar value of type %T", synerr.ErrInvalidArgument, v)
	}
}

// SortedKeys returns the keys of m in ascending lexical order, for
// callers that need an order independent of assignment sequence.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
