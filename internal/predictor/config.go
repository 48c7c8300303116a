package predictor

import (
	"fmt"
	"strings"
)

// Kind names a registered predictor family, e.g. "gag".
type Kind string

// Config describes one predictor configuration. Two configs are the same
// logical predictor when kind and arguments match; Description is display
// text only.
//
// Args hold int64, bool, float64 or string values. NewConfig normalizes the
// other integer and float widths.
type Config struct {
	Kind        Kind
	Description string
	Args        []any
}

func NewConfig(kind Kind, description string, args ...any) Config {
	normalized := make([]any, len(args))
	for i, a := range args {
		normalized[i] = normalizeArg(a)
	}
	return Config{Kind: kind, Description: description, Args: normalized}
}

func normalizeArg(a any) any {
	switch v := a.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int16:
		return int64(v)
	case int8:
		return int64(v)
	case uint:
		return int64(v)
	case uint32:
		return int64(v)
	case uint16:
		return int64(v)
	case uint8:
		return int64(v)
	case float32:
		return float64(v)
	default:
		return a
	}
}

// Key returns a string that is equal for two configs iff Equal reports true.
// It is used to index pools and result matrices.
func (c Config) Key() string {
	var sb strings.Builder
	sb.WriteString(string(c.Kind))
	sb.WriteByte('(')
	for i, a := range c.Args {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%T=%v", a, a)
	}
	sb.WriteByte(')')
	return sb.String()
}

func (c Config) Equal(other Config) bool {
	if c.Kind != other.Kind || len(c.Args) != len(other.Args) {
		return false
	}
	for i := range c.Args {
		if c.Args[i] != other.Args[i] {
			return false
		}
	}
	return true
}

func (c Config) String() string {
	if c.Description != "" {
		return c.Description
	}
	return c.Key()
}
