package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Fields is a raw record keyed by field name.
type Fields map[string]json.RawMessage

// Has reports whether name is present and not null.
func (f Fields) Has(name string) bool {
	raw, ok := f[name]
	return ok && len(raw) > 0 && string(raw) != "null"
}

// String decodes a string field.
func (f Fields) String(name string) (string, error) {
	raw, ok := f[name]
	if !ok {
		return "", fmt.Errorf("missing field %q", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q: %w", name, err)
	}
	return s, nil
}

// Uint decodes an unsigned integer that may be sent as a number or a string.
func (f Fields) Uint(name string) (uint64, error) {
	s, err := f.scalar(name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", name, err)
	}
	return v, nil
}

// Decimal decodes an arbitrary precision number sent as a number or a string.
func (f Fields) Decimal(name string) (decimal.Decimal, error) {
	s, err := f.scalar(name)
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %q: %w", name, err)
	}
	return d, nil
}

func (f Fields) scalar(name string) (string, error) {
	raw, ok := f[name]
	if !ok || string(raw) == "null" {
		return "", fmt.Errorf("missing field %q", name)
	}
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("field %q: %w", name, err)
		}
	}
	return s, nil
}
