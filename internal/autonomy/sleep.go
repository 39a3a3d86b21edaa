package autonomy

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mycelian/mycelian-companion/internal/llm"
	"github.com/mycelian/mycelian-companion/internal/llm/jsonx"
	"github.com/mycelian/mycelian-companion/internal/model"
)

// Bounds are the inclusive sleep-hour limits and the fallback used whenever a
// judgment cannot be trusted.
type Bounds struct {
	Min     int
	Max     int
	Default int
}

// DefaultBounds matches the documented [1,12] window with a 4 hour fallback.
func DefaultBounds() Bounds { return Bounds{Min: 1, Max: 12, Default: 4} }

// Clamp pins hours into [Min, Max].
func (b Bounds) Clamp(hours int) int {
	if hours < b.Min {
		return b.Min
	}
	if hours > b.Max {
		return b.Max
	}
	return hours
}

// JudgeSleepHours asks gen how long to wait before the next cycle. A failed
// call, an unreadable reply or a value outside the bounds yields b.Default.
func JudgeSleepHours(ctx context.Context, gen llm.Generator, uc *model.UserContext, b Bounds) int {
	if gen == nil {
		return b.Default
	}
	text, err := gen.Judge(ctx, sleepPrompt(uc, b), llm.WithFast(), llm.WithMaxTokens(20))
	if err != nil {
		return b.Default
	}
	h, ok := parseHours(text)
	if !ok || h < b.Min || h > b.Max {
		return b.Default
	}
	return h
}

// parseHours accepts a bare integer, an object carrying an integer "hours", or
// prose with one integer in it. An object without a numeric "hours" is not
// searched further.
func parseHours(text string) (int, bool) {
	trimmed := strings.TrimSpace(strings.Trim(strings.TrimSpace(text), "`"))
	if gjson.Valid(trimmed) {
		if r := gjson.Parse(trimmed); r.Type == gjson.Number {
			return wholeNumber(r.Num)
		}
	}
	if obj, err := jsonx.FirstObject(text); err == nil {
		r := gjson.Get(obj, "hours")
		if r.Type != gjson.Number {
			return 0, false
		}
		return wholeNumber(r.Num)
	}
	n, err := jsonx.FirstNumber(text)
	if err != nil {
		return 0, false
	}
	return wholeNumber(n)
}

func wholeNumber(f float64) (int, bool) {
	if f != math.Trunc(f) || math.Abs(f) > 1e6 {
		return 0, false
	}
	return int(f), true
}

func sleepPrompt(uc *model.UserContext, b Bounds) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Decide how many hours to wait before checking in with this user again (an integer from %d to %d).\n", b.Min, b.Max)
	sb.WriteString("Check back sooner when something is time-sensitive, later when nothing is happening.\n\n")
	if uc != nil {
		fmt.Fprintf(&sb, "Critical items: %d\nActive goals: %d\nPattern deviations: %d\n",
			uc.Summary.CriticalItems, uc.Summary.ActiveGoals, uc.Summary.PatternDeviations)
		for _, k := range uc.Summary.KeyInsights {
			fmt.Fprintf(&sb, "- %s\n", k)
		}
	}
	sb.WriteString("\nRespond with only the number, or {\"hours\": N}.")
	return sb.String()
}
