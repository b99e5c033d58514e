package record

import (
	"encoding/json"
	"math"
	"strings"
)

// Normalize returns the canonical form of a lookup value. Strings are
// trimmed, and lowercased when the field is email-like. Integral numbers of
// any width become int64 so values read back from the checkpoint store
// compare equal to values returned by a driver.
func Normalize(field, identity string, v any) any {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if emailLike(field, identity) {
			s = strings.ToLower(s)
		}
		return s
	case []byte:
		return Normalize(field, identity, string(x))
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case float32:
		return Normalize(field, identity, float64(x))
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	default:
		return v
	}
}

func emailLike(field, identity string) bool {
	return identity == "email" || strings.Contains(strings.ToLower(field), "email")
}

// NormalizeRow applies Normalize to every value of a row in place and
// returns it. Strings are left untouched.
func NormalizeRow(r Row) Row {
	for k, v := range r {
		switch x := v.(type) {
		case []byte:
			r[k] = string(x)
		case json.Number, float64, float32, int, int8, int16, int32, uint8, uint16, uint32, uint64:
			r[k] = Normalize(k, "", v)
		}
	}
	return r
}
