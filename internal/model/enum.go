package model

import (
	"fmt"
	"log/slog"
	"strings"
)

// parseEnum maps s onto one of variants case-insensitively, or returns def.
func parseEnum[T ~string](s string, variants []T, def T) T {
	s = strings.TrimSpace(s)
	for _, v := range variants {
		if strings.EqualFold(string(v), s) {
			return v
		}
	}
	return def
}

// scanEnum reads a persisted enum. Values that match no variant degrade to def
// and are reported so the row can be repaired.
func scanEnum[T ~string](src any, variants []T, def T, enum string) (T, error) {
	var raw string
	switch v := src.(type) {
	case nil:
		return def, nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return def, fmt.Errorf("cannot scan %T into %s", src, enum)
	}

	parsed := parseEnum(raw, variants, def)
	if !strings.EqualFold(string(parsed), strings.TrimSpace(raw)) {
		slog.Warn("enum value repaired",
			"enum", enum,
			"value", raw,
			"default", string(def))
	}
	return parsed, nil
}

func isVariant[T ~string](v T, variants []T) bool {
	for _, x := range variants {
		if x == v {
			return true
		}
	}
	return false
}
