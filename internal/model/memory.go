package model

import "time"

// MemoryType classifies a stored fact about a user.
type MemoryType string

const (
	MemoryEpisodic     MemoryType = "episodic"
	MemoryWorking      MemoryType = "working"
	MemoryConversation MemoryType = "conversation"
	MemoryDesire       MemoryType = "desire"
	MemoryInterest     MemoryType = "interest"
	MemorySemantic     MemoryType = "semantic"
	MemoryPreference   MemoryType = "preference"
)

// MemoryTypes lists every known memory type.
var MemoryTypes = []MemoryType{
	MemoryEpisodic, MemoryWorking, MemoryConversation, MemoryDesire,
	MemoryInterest, MemorySemantic, MemoryPreference,
}

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	for _, k := range MemoryTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Importance is an ordinal in [1,5].
type Importance int

const (
	ImportanceLow      Importance = 1
	ImportanceNormal   Importance = 2
	ImportanceMedium   Importance = 3
	ImportanceHigh     Importance = 4
	ImportanceCritical Importance = 5
)

// Valid reports whether i is within [ImportanceLow, ImportanceCritical].
func (i Importance) Valid() bool { return i >= ImportanceLow && i <= ImportanceCritical }

// Normalized maps the ordinal onto (0,1].
func (i Importance) Normalized() float64 {
	switch {
	case i < ImportanceLow:
		return float64(ImportanceLow) / float64(ImportanceCritical)
	case i > ImportanceCritical:
		return 1
	}
	return float64(i) / float64(ImportanceCritical)
}

// MemoryStatus is the lifecycle state of a memory.
type MemoryStatus string

const (
	MemoryActive   MemoryStatus = "active"
	MemoryArchived MemoryStatus = "archived"
	MemoryDeleted  MemoryStatus = "deleted"
)

// Memory is a durable, typed fact about a user. Content is ciphertext while at rest
// and plaintext once returned by the memory service.
type Memory struct {
	ID               string       `json:"id"`
	UserID           string       `json:"userId"`
	Type             MemoryType   `json:"type"`
	Content          string       `json:"content"`
	Summary          *string      `json:"summary,omitempty"`
	Importance       Importance   `json:"importance"`
	Status           MemoryStatus `json:"status"`
	Tags             []string     `json:"tags"`
	RelatedMemoryIDs []string     `json:"relatedMemoryIds"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
	ExpiresAt        *time.Time   `json:"expiresAt,omitempty"`
	ArchivedAt       *time.Time   `json:"archivedAt,omitempty"`
	LastAccessedAt   *time.Time   `json:"lastAccessedAt,omitempty"`
	AccessCount      int64        `json:"accessCount"`
}

// AccessStats is the read bookkeeping of one memory as stored.
type AccessStats struct {
	AccessCount    int64
	LastAccessedAt *time.Time
}

// MemoryFilter narrows memory listings. Zero values mean "no constraint" except
// Statuses, which defaults to active only at the service layer.
type MemoryFilter struct {
	UserID        string
	Types         []MemoryType
	Statuses      []MemoryStatus
	MinImportance Importance
	Tags          []string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// MemoryStats aggregates a user's memories.
type MemoryStats struct {
	Total        int64                  `json:"total"`
	ByType       map[MemoryType]int64   `json:"byType"`
	ByStatus     map[MemoryStatus]int64 `json:"byStatus"`
	ByImportance map[Importance]int64   `json:"byImportance"`
}
