package model

import "time"

type FeedbackType string

const FeedbackDismissed FeedbackType = "dismissed"

// FeedbackRecord is an append-only log entry of a user rejecting an insight.
type FeedbackRecord struct {
	ID                 string       `json:"id"`
	UserID             string       `json:"userId"`
	InsightType        InsightType  `json:"insightType"`
	InsightTitle       string       `json:"insightTitle"`
	InsightDescription string       `json:"insightDescription"`
	FeedbackType       FeedbackType `json:"feedbackType"`
	Reason             *string      `json:"reason,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
}
