// Package attr implements the schema-less per-entity attribute store.
package attr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"club-events-backend/internal/parse"
)

// Type tags a TypedValue.
type Type string

const (
	TypeString Type = "string"
	TypeNumber Type = "number"
	TypeBool   Type = "boolean"
	TypeDate   Type = "date"
)

// Value is a tagged union over the attribute types. Only the field that
// matches Type is meaningful.
type Value struct {
	Type Type
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

func String(s string) Value  { return Value{Type: TypeString, Str: s} }
func Number(n float64) Value { return Value{Type: TypeNumber, Num: n} }
func Bool(b bool) Value      { return Value{Type: TypeBool, Bool: b} }
func Date(t time.Time) Value { return Value{Type: TypeDate, Time: t} }

// Parse decodes a raw stored value according to its type tag.
func Parse(t Type, raw string) (Value, error) {
	switch t {
	case TypeString, "":
		return String(raw), nil
	case TypeNumber:
		n, ok := parse.Number(raw)
		if !ok {
			return Value{}, fmt.Errorf("invalid number %q", raw)
		}
		return Number(n), nil
	case TypeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Value{}, fmt.Errorf("invalid boolean %q", raw)
		}
		return Bool(b), nil
	case TypeDate:
		d, err := parse.Date(raw, time.UTC)
		if err != nil {
			return Value{}, err
		}
		return Date(d), nil
	default:
		return Value{}, fmt.Errorf("unknown attribute type %q", t)
	}
}

// Raw renders the value in its stored form; Parse(v.Type, v.Raw()) round-trips.
func (v Value) Raw() string {
	switch v.Type {
	case TypeNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.Bool)
	case TypeDate:
		return v.Time.Format(parse.DateLayout)
	default:
		return v.Str
	}
}

func (v Value) String() string {
	return v.Raw()
}
