package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContextMetadata is the per-category payload of a ContextItem. The interface is
// sealed; each category has exactly one implementation.
type ContextMetadata interface {
	Category() ContextCategory
	isContextMetadata()
}

// CurrentStateMeta describes what the user is doing right now.
type CurrentStateMeta struct {
	Activity string `json:"activity"`
	Location string `json:"location,omitempty"`
	Mood     string `json:"mood,omitempty"`
	Energy   string `json:"energy,omitempty"`
	Note     string `json:"note,omitempty"`
}

// RecentActivityMeta links a context item back to the memory it came from.
type RecentActivityMeta struct {
	MemoryID   string     `json:"memoryId,omitempty"`
	MemoryType MemoryType `json:"memoryType,omitempty"`
	Source     string     `json:"source,omitempty"`
}

// PatternMeta carries a detected behavioral pattern.
type PatternMeta struct {
	PatternID         string    `json:"patternId"`
	PatternType       string    `json:"patternType"`
	Confidence        float64   `json:"confidence"`
	LastObservedAt    time.Time `json:"lastObservedAt"`
	DeviationDetected bool      `json:"deviationDetected"`
}

type GoalMeta struct {
	GoalID     string     `json:"goalId"`
	Title      string     `json:"title"`
	Progress   float64    `json:"progress"`
	TargetDate *time.Time `json:"targetDate,omitempty"`
}

type ScheduleMeta struct {
	EventTitle string     `json:"eventTitle"`
	StartsAt   time.Time  `json:"startsAt"`
	EndsAt     *time.Time `json:"endsAt,omitempty"`
	Location   string     `json:"location,omitempty"`
}

// EnvironmentMeta is synthesized from the clock and the user's timezone.
type EnvironmentMeta struct {
	TimeOfDay string `json:"timeOfDay"`
	Weekday   string `json:"weekday"`
	IsWeekend bool   `json:"isWeekend"`
	Timezone  string `json:"timezone"`
	LocalTime string `json:"localTime"`
}

type PreferenceMeta struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	// MemoryID is set when the preference was derived from a memory.
	MemoryID string `json:"memoryId,omitempty"`
}

type RelationshipMeta struct {
	Name          string     `json:"name"`
	Relation      string     `json:"relation,omitempty"`
	LastContactAt *time.Time `json:"lastContactAt,omitempty"`
}

func (CurrentStateMeta) Category() ContextCategory   { return CategoryCurrentState }
func (RecentActivityMeta) Category() ContextCategory { return CategoryRecentActivity }
func (PatternMeta) Category() ContextCategory        { return CategoryPatterns }
func (GoalMeta) Category() ContextCategory           { return CategoryGoals }
func (ScheduleMeta) Category() ContextCategory       { return CategorySchedule }
func (EnvironmentMeta) Category() ContextCategory    { return CategoryEnvironment }
func (PreferenceMeta) Category() ContextCategory     { return CategoryPreferences }
func (RelationshipMeta) Category() ContextCategory   { return CategoryRelationships }

func (CurrentStateMeta) isContextMetadata()   {}
func (RecentActivityMeta) isContextMetadata() {}
func (PatternMeta) isContextMetadata()        {}
func (GoalMeta) isContextMetadata()           {}
func (ScheduleMeta) isContextMetadata()       {}
func (EnvironmentMeta) isContextMetadata()    {}
func (PreferenceMeta) isContextMetadata()     {}
func (RelationshipMeta) isContextMetadata()   {}

type metadataEnvelope struct {
	Category ContextCategory `json:"category"`
	Data     json.RawMessage `json:"data"`
}

// EncodeMetadata serializes md with its category tag.
func EncodeMetadata(md ContextMetadata) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadataEnvelope{Category: md.Category(), Data: data})
}

// DecodeMetadata reverses EncodeMetadata.
func DecodeMetadata(b []byte) (ContextMetadata, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode metadata envelope: %w", err)
	}
	var md ContextMetadata
	switch env.Category {
	case CategoryCurrentState:
		var v CurrentStateMeta
		err := json.Unmarshal(env.Data, &v)
		md = v
		return md, err
	case CategoryRecentActivity:
		var v RecentActivityMeta
		err := json.Unmarshal(env.Data, &v)
		md = v
		return md, err
	case CategoryPatterns:
		var v PatternMeta
		err := json.Unmarshal(env.Data, &v)
		md = v
		return md, err
	case CategoryGoals:
		var v GoalMeta
		err := json.Unmarshal(env.Data, &v)
		md = v
		return md, err
	case CategorySchedule:
		var v ScheduleMeta
		err := json.Unmarshal(env.Data, &v)
		md = v
		return md, err
	case CategoryEnvironment:
		var v EnvironmentMeta
		err := json.Unmarshal(env.Data, &v)
		md = v
		return md, err
	case CategoryPreferences:
		var v PreferenceMeta
		err := json.Unmarshal(env.Data, &v)
		md = v
		return md, err
	case CategoryRelationships:
		var v RelationshipMeta
		err := json.Unmarshal(env.Data, &v)
		md = v
		return md, err
	}
	return nil, fmt.Errorf("unknown metadata category %q", env.Category)
}
