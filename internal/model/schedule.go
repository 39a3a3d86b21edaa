package model

import "time"

// SchedulePhase is the scheduler's state machine position.
type SchedulePhase string

const (
	PhaseStopped  SchedulePhase = "stopped"
	PhaseRunning  SchedulePhase = "running"
	PhaseSleeping SchedulePhase = "sleeping"
)

// ScheduleState is owned by one running scheduler and never persisted.
type ScheduleState struct {
	NextWakeAt       *time.Time    `json:"nextWakeAt,omitempty"`
	IsRunning        bool          `json:"isRunning"`
	SleepBoundsHours [2]int        `json:"sleepBoundsHours"`
	Phase            SchedulePhase `json:"phase"`
	LastCycleAt      *time.Time    `json:"lastCycleAt,omitempty"`
	LastSleepHours   int           `json:"lastSleepHours"`
}

// CycleType names a once-per-day action guarded by a daily marker.
type CycleType string

const CycleBriefing CycleType = "briefing"
