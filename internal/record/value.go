package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindInt
	KindFloat
	KindVarchar
	KindDate
)

var ErrTypeMismatch = errors.New("record: value does not match column type")

// Value is a tagged sum over {Null, Int, Float, Varchar, Date}.
// All fields are comparable, so a Value can be used directly as a map key
// (GROUP BY hashing relies on this).
type Value struct {
	Kind  ValueKind
	Int   int32
	Float float64
	// Str holds VARCHAR text, and DATE in ISO-8601 form.
	Str string
}

func Null() Value               { return Value{Kind: KindNull} }
func NewInt(v int32) Value      { return Value{Kind: KindInt, Int: v} }
func NewFloat(v float64) Value  { return Value{Kind: KindFloat, Float: v} }
func NewVarchar(s string) Value { return Value{Kind: KindVarchar, Str: s} }

// NewDate builds a DATE value, validating the ISO-8601 form.
func NewDate(s string) (Value, error) {
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return Value{}, fmt.Errorf("record: bad date %q: %w", s, err)
	}
	return Value{Kind: KindDate, Str: s}, nil
}

func (v Value) IsNull() bool { return v.Kind == KindNull }

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(int64(v.Int), 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindVarchar, KindDate:
		return v.Str
	default:
		return "?"
	}
}

// Matches reports whether the value can be stored in a column of type t.
// Int literals are accepted by FLOAT columns; everything else must match
// exactly. Null matches any type (nullability is checked separately).
func (v Value) Matches(t Type) bool {
	switch v.Kind {
	case KindNull:
		return true
	case KindInt:
		return t.Kind == TypeInt || t.Kind == TypeFloat
	case KindFloat:
		return t.Kind == TypeFloat
	case KindVarchar:
		return t.Kind == TypeVarchar && len(v.Str) <= t.Len
	case KindDate:
		return t.Kind == TypeDate
	default:
		return false
	}
}

// Coerce converts the value to the storage form for a column of type t.
// The only conversion performed is int promotion into FLOAT columns.
func (v Value) Coerce(t Type) (Value, error) {
	if !v.Matches(t) {
		return Value{}, fmt.Errorf("value %s for type %s: %w", v, t, ErrTypeMismatch)
	}
	if v.Kind == KindInt && t.Kind == TypeFloat {
		return NewFloat(float64(v.Int)), nil
	}
	return v, nil
}

// FromString parses a raw text field (CSV load) into a value of type t.
// An empty field becomes Null.
func FromString(field string, t Type) (Value, error) {
	if field == "" {
		return Null(), nil
	}
	switch t.Kind {
	case TypeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(field), 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("record: bad int %q: %w", field, err)
		}
		return NewInt(int32(n)), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Value{}, fmt.Errorf("record: bad float %q: %w", field, err)
		}
		return NewFloat(f), nil
	case TypeVarchar:
		if len(field) > t.Len {
			return Value{}, fmt.Errorf("record: value %q exceeds varchar(%d)", field, t.Len)
		}
		return NewVarchar(field), nil
	case TypeDate:
		return NewDate(strings.TrimSpace(field))
	default:
		return Value{}, fmt.Errorf("record: unknown type %v", t.Kind)
	}
}

// CompareValues applies SQL comparison semantics: if either side is Null
// the values are incomparable and ok is false. Int and Float compare
// numerically across kinds.
func CompareValues(a, b Value) (cmp int, ok bool) {
	if a.IsNull() || b.IsNull() {
		return 0, false
	}
	return rawCompare(a, b), true
}

// OrderCompare is the total order used by the index comparator and ORDER BY:
// Null sorts before any non-null value, and Null equals Null.
func OrderCompare(a, b Value) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return -1
	case b.IsNull():
		return 1
	}
	return rawCompare(a, b)
}

func rawCompare(a, b Value) int {
	if an, af, aok := a.numeric(); aok {
		if bn, bf, bok := b.numeric(); bok {
			if an && bn {
				switch {
				case a.Int < b.Int:
					return -1
				case a.Int > b.Int:
					return 1
				}
				return 0
			}
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	// Varchar and Date both compare as text; ISO-8601 dates order correctly.
	return strings.Compare(a.Str, b.Str)
}

func (v Value) numeric() (isInt bool, f float64, ok bool) {
	switch v.Kind {
	case KindInt:
		return true, float64(v.Int), true
	case KindFloat:
		return false, v.Float, true
	default:
		return false, 0, false
	}
}

type valueJSON struct {
	Int     *int32   `json:"int,omitempty"`
	Float   *float64 `json:"float,omitempty"`
	Varchar *string  `json:"varchar,omitempty"`
	Date    *string  `json:"date,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var out valueJSON
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindInt:
		out.Int = &v.Int
	case KindFloat:
		out.Float = &v.Float
	case KindVarchar:
		out.Varchar = &v.Str
	case KindDate:
		out.Date = &v.Str
	}
	return json.Marshal(out)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Null()
		return nil
	}
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.Int != nil:
		*v = NewInt(*in.Int)
	case in.Float != nil:
		*v = NewFloat(*in.Float)
	case in.Varchar != nil:
		*v = NewVarchar(*in.Varchar)
	case in.Date != nil:
		*v = Value{Kind: KindDate, Str: *in.Date}
	default:
		*v = Null()
	}
	return nil
}
