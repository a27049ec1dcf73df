package main

import (
	"fmt"
	"time"
)

// These helpers read already-validated, default-merged dispatcher arguments.
// JSON-decoded maps carry numbers as float64 and missing keys as absent
// entries, so each helper tolerates both and falls back quietly.

func str(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func intOr(args map[string]any, key string, fallback int) int {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return fallback
	}
}

func boolOr(args map[string]any, key string, fallback bool) bool {
	v, ok := args[key]
	if !ok {
		return fallback
	}
	b, ok := v.(bool)
	if !ok {
		return fallback
	}
	return b
}

// parseWindow parses the optional "from"/"to" RFC3339 bounds for a
// forensic undo. A missing "to" defaults to now; a missing "from" defaults
// to 24 hours before "to".
func parseWindow(args map[string]any) (from, to time.Time, err error) {
	to = time.Now()
	if raw := str(args, "to"); raw != "" {
		to, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse to: %w", err)
		}
	}
	from = to.Add(-24 * time.Hour)
	if raw := str(args, "from"); raw != "" {
		from, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse from: %w", err)
		}
	}
	return from, to, nil
}
