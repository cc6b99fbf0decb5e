package sources

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Defensive field extraction
// Every numeric read degrades to a zero value instead of failing.
// ---------------------------------------------------------------------------

// Float coerces v to float64. nil, missing, non-numeric strings, NaN and
// Inf all yield 0.
func Float(v any) float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case int32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case bool:
		return 0
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Int coerces v to int64, truncating fractional values.
func Int(v any) int64 {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
	case int:
		return int64(val)
	case int64:
		return val
	}
	f := Float(v)
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}

// Bool coerces v to bool. Strings "true"/"1"/"yes" and non-zero numbers
// are true.
func Bool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes":
			return true
		}
		return false
	case nil:
		return false
	}
	return Float(v) != 0
}

// String coerces v to a trimmed string. Numbers are rendered without
// exponent; nil and composite values yield "".
func String(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int, int64:
		return fmt.Sprintf("%d", val)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}

// Path walks nested objects by key. Any missing or non-object step yields nil.
func Path(v any, keys ...string) any {
	cur := v
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[k]
		if !ok {
			return nil
		}
	}
	return cur
}

// decodeJSON decodes into generic values, keeping numbers as json.Number
// so that large integers survive. An empty or blank body is ErrNoData.
func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// objects returns v as a list of objects: a single object becomes a
// one-element list, non-object list items are skipped.
func objects(v any) []map[string]any {
	switch val := v.(type) {
	case map[string]any:
		return []map[string]any{val}
	case []any:
		out := make([]map[string]any, 0, len(val))
		for _, item := range val {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

// ---------------------------------------------------------------------------
// Field rules
// ---------------------------------------------------------------------------

// FieldRules is a named, ordered list of keys. The first key that is
// present with a non-empty value wins.
type FieldRules struct {
	Name string
	Keys []string
}

// PumpFunMintRules locates the mint address in a pump.fun coin object,
// whose field naming differs between API mirrors and versions.
var PumpFunMintRules = FieldRules{
	Name: "pump_fun_mint",
	Keys: []string{"mint", "address", "tokenAddress", "id", "contract"},
}

// First returns the first present, non-empty value and the key it came from.
func (r FieldRules) First(m map[string]any) (value, key string) {
	for _, k := range r.Keys {
		if s := String(m[k]); s != "" {
			return s, k
		}
	}
	return "", ""
}

// FirstPresent returns the value selected by rules, or "".
func FirstPresent(m map[string]any, rules FieldRules) string {
	v, _ := rules.First(m)
	return v
}
