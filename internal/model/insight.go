package model

import "time"

// InsightType enumerates the kinds of suggestion the engine may produce.
type InsightType string

const (
	InsightTaskSuggestion     InsightType = "task_suggestion"
	InsightReminderSuggestion InsightType = "reminder_suggestion"
	InsightPatternObservation InsightType = "pattern_observation"
	InsightGoalNudge          InsightType = "goal_nudge"
	InsightForgottenDesire    InsightType = "forgotten_desire"
	InsightHealthInsight      InsightType = "health_insight"
	InsightRecommendation     InsightType = "recommendation"
)

// InsightTypes lists every known insight type.
var InsightTypes = []InsightType{
	InsightTaskSuggestion, InsightReminderSuggestion, InsightPatternObservation,
	InsightGoalNudge, InsightForgottenDesire, InsightHealthInsight, InsightRecommendation,
}

func (t InsightType) Valid() bool {
	for _, k := range InsightTypes {
		if k == t {
			return true
		}
	}
	return false
}

type InsightPriority string

const (
	PriorityLow    InsightPriority = "low"
	PriorityMedium InsightPriority = "medium"
	PriorityHigh   InsightPriority = "high"
)

func (p InsightPriority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// ActionType is the closed set of operations an insight may trigger.
type ActionType string

const (
	ActionCreateReminder ActionType = "create_reminder"
	ActionCreateGoal     ActionType = "create_goal"
	ActionSendMessage    ActionType = "send_message"
)

// Actionable describes what executing an insight would do.
type Actionable struct {
	Type    ActionType     `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Insight is a generated, possibly actionable suggestion.
type Insight struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Type        InsightType     `json:"type"`
	Priority    InsightPriority `json:"priority"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Actionable  *Actionable     `json:"actionable,omitempty"`
	ActedOn     bool            `json:"actedOn"`
	Dismissed   bool            `json:"dismissed"`
	CreatedAt   time.Time       `json:"createdAt"`
}
