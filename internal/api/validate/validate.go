package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mycelian/mycelian-companion/internal/model"
)

// UserID allows letters, digits and a few separators, 1-128 chars.
var userIDRx = regexp.MustCompile(`^[A-Za-z0-9_.:@\-]{1,128}$`)

func UserID(v string) error {
	if v == "" {
		return fmt.Errorf("userId is required")
	}
	if !userIDRx.MatchString(v) {
		return fmt.Errorf("userId must match %s", userIDRx.String())
	}
	return nil
}

func NonEmpty(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func MaxLen(field string, v *string, limit int) error {
	if v == nil {
		return nil
	}
	if len(*v) > limit {
		return fmt.Errorf("%s exceeds %d characters", field, limit)
	}
	return nil
}

// -------- Query parameter helpers ----------

// List splits a comma-separated parameter, dropping blanks.
func List(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Int parses an optional integer parameter within [lo, hi].
func Int(field, raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", field)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be within [%d,%d]", field, lo, hi)
	}
	return n, nil
}

// Score parses an optional float parameter within [0,1].
func Score(field, raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 || f > 1 {
		return 0, fmt.Errorf("%s must be a number within [0,1]", field)
	}
	return f, nil
}

func MemoryTypes(raw []string) ([]model.MemoryType, error) {
	out := make([]model.MemoryType, 0, len(raw))
	for _, r := range raw {
		t := model.MemoryType(r)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown memory type %q", r)
		}
		out = append(out, t)
	}
	return out, nil
}

func Categories(raw []string) ([]model.ContextCategory, error) {
	out := make([]model.ContextCategory, 0, len(raw))
	for _, r := range raw {
		c := model.ContextCategory(r)
		if !c.Valid() {
			return nil, fmt.Errorf("unknown context category %q", r)
		}
		out = append(out, c)
	}
	return out, nil
}

func Window(raw string, def model.TimeWindow) (model.TimeWindow, error) {
	if raw == "" {
		return def, nil
	}
	w := model.TimeWindow(raw)
	if !w.Valid() {
		return "", fmt.Errorf("unknown time window %q", raw)
	}
	return w, nil
}
