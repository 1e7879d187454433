package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexInt decodes an integer that may arrive as a JSON number or a numeric
// string. Set is false when the field was absent or null.
type FlexInt struct {
	Value int64
	Set   bool
}

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = FlexInt{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = FlexInt{}
			return nil
		}
		v, err := parseNumber(s)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*f = FlexInt{Value: v, Set: true}
		return nil
	}

	v, err := parseNumber(string(data))
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", data, err)
	}
	*f = FlexInt{Value: v, Set: true}
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(f.Value, 10)), nil
}

// Or returns the value, or def when the field was not set.
func (f FlexInt) Or(def int64) int64 {
	if !f.Set {
		return def
	}
	return f.Value
}

// parseNumber accepts integers and integral floats such as 1.0 or 1e3.
func parseNumber(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	fv, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if fv != float64(int64(fv)) {
		return 0, fmt.Errorf("not an integer")
	}
	return int64(fv), nil
}

// FlexBool decodes a boolean that may arrive as true/false, "true"/"false"
// or 0/1. Set is false when the field was absent or null.
type FlexBool struct {
	Value bool
	Set   bool
}

func (f *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	s := strings.Trim(string(data), `"`)
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null":
		*f = FlexBool{}
	case "true", "1":
		*f = FlexBool{Value: true, Set: true}
	case "false", "0":
		*f = FlexBool{Value: false, Set: true}
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

func (f FlexBool) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatBool(f.Value)), nil
}
