package model

import "time"

// User is the minimal view of an account the engine needs.
type User struct {
	ID          string    `json:"id"`
	Timezone    string    `json:"timezone"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Credential grants access to a text-generation provider on behalf of a user.
// APIKey is ciphertext at rest.
type Credential struct {
	UserID    string    `json:"userId"`
	Provider  string    `json:"provider"`
	APIKey    string    `json:"-"`
	BaseURL   string    `json:"baseUrl,omitempty"`
	Model     string    `json:"model,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderCompleted ReminderStatus = "completed"
)

type Reminder struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Title       string         `json:"title"`
	Description *string        `json:"description,omitempty"`
	DueAt       time.Time      `json:"dueAt"`
	Status      ReminderStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
}

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

type Goal struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Title       string      `json:"title"`
	Description *string     `json:"description,omitempty"`
	Category    *string     `json:"category,omitempty"`
	TargetDate  *time.Time  `json:"targetDate,omitempty"`
	Status      GoalStatus  `json:"status"`
	Progress    float64     `json:"progress"`
	Milestones  []Milestone `json:"milestones"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type Milestone struct {
	ID        string     `json:"id"`
	GoalID    string     `json:"goalId"`
	Title     string     `json:"title"`
	Position  int        `json:"position"`
	DueAt     *time.Time `json:"dueAt,omitempty"`
	Completed bool       `json:"completed"`
}
