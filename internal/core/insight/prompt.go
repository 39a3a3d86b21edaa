package insight

import (
	"fmt"
	"strings"

	"github.com/mycelian/mycelian-companion/internal/core/feedback"
	"github.com/mycelian/mycelian-companion/internal/model"
)

const systemPrompt = "You are a thoughtful personal companion. You look at what you know about the user " +
	"and suggest a few genuinely useful, timely things. You never invent facts about the user."

// maxPromptItems keeps the prompt bounded for users with large contexts.
const maxPromptItems = 25

// buildPrompt renders the generation request. Pending reminders and the
// feedback summary are always present so the model can avoid duplicates and
// topics the user keeps dismissing.
func buildPrompt(uc *model.UserContext, pending []*model.Reminder, fb feedback.Summary) string {
	var b strings.Builder

	b.WriteString("## Current context\n")
	items := uc.Items
	if len(items) > maxPromptItems {
		items = items[:maxPromptItems]
	}
	if len(items) == 0 {
		b.WriteString("(nothing known)\n")
	}
	for _, it := range items {
		fmt.Fprintf(&b, "- [%s, %s, %.2f] %s\n", it.Category, it.Relevance, it.RelevanceScore, it.Content)
	}
	if len(uc.Summary.KeyInsights) > 0 {
		b.WriteString("\n## Key observations\n")
		for _, k := range uc.Summary.KeyInsights {
			b.WriteString("- " + k + "\n")
		}
	}
	fmt.Fprintf(&b, "\nActive goals: %d. Pattern deviations: %d.\n", uc.Summary.ActiveGoals, uc.Summary.PatternDeviations)

	b.WriteString("\n## Pending reminders (do not suggest these again)\n")
	if len(pending) == 0 {
		b.WriteString("(none)\n")
	}
	for _, r := range pending {
		fmt.Fprintf(&b, "- %s (due %s)\n", r.Title, r.DueAt.Format("2006-01-02 15:04"))
	}

	if !fb.Empty() {
		b.WriteString("\n## User feedback\n")
		if len(fb.DismissedTypes) > 0 {
			fmt.Fprintf(&b, "The user has repeatedly dismissed these insight types. Strongly down-weight them and only use them when clearly urgent: %s.\n",
				strings.Join(fb.DismissedTypes, ", "))
		}
		if len(fb.DismissedTopics) > 0 {
			fmt.Fprintf(&b, "Avoid repeating these recently dismissed topics: %s.\n", strings.Join(quoted(fb.DismissedTopics), "; "))
		}
	}

	b.WriteString("\n## Task\n")
	fmt.Fprintf(&b, "Suggest between 0 and %d insights. Returning an empty array is fine when nothing is worth saying.\n", MaxInsights)
	b.WriteString("Respond with a single JSON array. Each element has the fields:\n")
	fmt.Fprintf(&b, "  type: one of %s\n", joinTypes())
	b.WriteString("  priority: low | medium | high\n")
	b.WriteString("  title: short headline\n")
	b.WriteString("  description: one or two sentences\n")
	b.WriteString("  actionable (optional): {\"type\": \"create_reminder\" | \"create_goal\" | \"send_message\", \"payload\": {...}}\n")
	b.WriteString("    create_reminder payload: title, description, due_at (RFC3339)\n")
	b.WriteString("    create_goal payload: title, description, category, target_date (RFC3339)\n")
	b.WriteString("    send_message payload: message\n")
	return b.String()
}

func joinTypes() string {
	s := make([]string, 0, len(model.InsightTypes))
	for _, t := range model.InsightTypes {
		s = append(s, string(t))
	}
	return strings.Join(s, " | ")
}

func quoted(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, fmt.Sprintf("%q", s))
	}
	return out
}
