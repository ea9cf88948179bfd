package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Value is a loosely typed scalar from the upstream item API. The same
// field may arrive as a JSON number, a numeric string, a boolean or null,
// so the raw text is kept and interpreted on demand.
type Value struct {
	raw    string
	quoted bool
	valid  bool
}

// NumberValue returns a Value holding a JSON number.
func NumberValue(f float64) Value {
	return Value{raw: strconv.FormatFloat(f, 'f', -1, 64), valid: true}
}

// StringValue returns a Value holding a JSON string.
func StringValue(s string) Value {
	return Value{raw: s, quoted: true, valid: true}
}

// IsSet reports whether the field was present and not null.
func (v Value) IsSet() bool {
	return v.valid
}

// String returns the raw text of the value.
func (v Value) String() string {
	return v.raw
}

// Int interprets the value the way the upstream producers do: numbers are
// truncated toward zero and strings are read up to the first non-digit.
// ok is false when no integer can be read.
func (v Value) Int() (int, bool) {
	if !v.valid {
		return 0, false
	}
	if !v.quoted {
		if f, err := strconv.ParseFloat(v.raw, 64); err == nil {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return 0, false
			}
			return int(math.Trunc(f)), true
		}
	}
	return parseIntPrefix(v.raw)
}

// Float returns the value as a float64, or false when it is not numeric.
func (v Value) Float() (float64, bool) {
	if !v.valid {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Bool reports whether the value is the literal true or the string "true".
func (v Value) Bool() bool {
	return v.valid && v.raw == "true"
}

// UnmarshalJSON implements json.Unmarshaler. Objects and arrays are kept
// verbatim and simply fail numeric interpretation.
func (v *Value) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*v = Value{}
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*v = Value{raw: str, quoted: true, valid: true}
		return nil
	}
	*v = Value{raw: s, valid: true}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.valid {
		return []byte("null"), nil
	}
	if v.quoted {
		return json.Marshal(v.raw)
	}
	return []byte(v.raw), nil
}

func parseIntPrefix(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
