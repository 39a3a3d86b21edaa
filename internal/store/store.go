package store

import (
	"context"
	"time"

	"github.com/mycelian/mycelian-companion/internal/model"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (postgres, sqlite).
type Store interface {
	Users() Users
	Credentials() Credentials
	Memories() Memories
	ContextItems() ContextItems
	Patterns() Patterns
	Insights() Insights
	Feedback() Feedback
	Reminders() Reminders
	Goals() Goals
	Markers() Markers
}

type Users interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	List(ctx context.Context) ([]*model.User, error)
}

type Credentials interface {
	Put(ctx context.Context, c *model.Credential) error
	// Get returns model.ErrNotFound when the user has no credential.
	Get(ctx context.Context, userID string) (*model.Credential, error)
}

type Memories interface {
	Create(ctx context.Context, m *model.Memory) (*model.Memory, error)
	// Get never returns deleted memories.
	Get(ctx context.Context, userID, memoryID string) (*model.Memory, error)
	Update(ctx context.Context, m *model.Memory) (*model.Memory, error)
	// List returns one page plus the total number of matches.
	List(ctx context.Context, f model.MemoryFilter) ([]*model.Memory, int64, error)
	// TouchAccess records one read of each memory and returns the stored
	// access stats after the increment.
	TouchAccess(ctx context.Context, userID string, ids []string, at time.Time) (map[string]model.AccessStats, error)
	AccessStats(ctx context.Context, userID string, ids []string) (map[string]model.AccessStats, error)
	Stats(ctx context.Context, userID string) (*model.MemoryStats, error)
	// ArchiveExpired moves active memories whose expiry passed to archived and
	// returns the owning user id of every row it changed.
	ArchiveExpired(ctx context.Context, now time.Time) ([]string, error)
	// DeleteArchivedBefore marks memories archived before cutoff as deleted.
	DeleteArchivedBefore(ctx context.Context, cutoff, now time.Time) ([]string, error)
}

// ContextItemFilter selects stored context items. Expired items relative to
// Now are always excluded.
type ContextItemFilter struct {
	UserID     string
	Categories []model.ContextCategory
	Since      *time.Time
	MinScore   float64
	Now        time.Time
}

type ContextItems interface {
	// Put inserts the item or replaces the row with the same id.
	Put(ctx context.Context, c *model.ContextItem) (*model.ContextItem, error)
	// UpsertCurrentState keeps a single current_state row per user.
	UpsertCurrentState(ctx context.Context, c *model.ContextItem) (*model.ContextItem, error)
	List(ctx context.Context, f ContextItemFilter) ([]*model.ContextItem, error)
	CountCurrentState(ctx context.Context, userID string) (int, error)
	// PurgeExpired deletes expired items; an empty userID purges every user.
	PurgeExpired(ctx context.Context, userID string, now time.Time) (int64, error)
}

// Patterns are written by the external detector and read by the aggregator.
type Patterns interface {
	Upsert(ctx context.Context, p *model.Pattern) error
	ListActive(ctx context.Context, userID string, minConfidence float64) ([]*model.Pattern, error)
}

type Insights interface {
	Create(ctx context.Context, in *model.Insight) (*model.Insight, error)
	Get(ctx context.Context, userID, insightID string) (*model.Insight, error)
	List(ctx context.Context, userID string, includeDismissed bool, limit int) ([]*model.Insight, error)
	MarkActedOn(ctx context.Context, userID, insightID string) error
	MarkDismissed(ctx context.Context, userID, insightID string) error
}

// Feedback is append-only.
type Feedback interface {
	Append(ctx context.Context, r *model.FeedbackRecord) error
	// Recent returns dismissal records newest first.
	Recent(ctx context.Context, userID string, limit int) ([]*model.FeedbackRecord, error)
	CountByType(ctx context.Context, userID string) (map[model.InsightType]int, error)
}

type Reminders interface {
	Create(ctx context.Context, r *model.Reminder) (*model.Reminder, error)
	ListPending(ctx context.Context, userID string) ([]*model.Reminder, error)
}

type Goals interface {
	Create(ctx context.Context, g *model.Goal) (*model.Goal, error)
	// ListActive returns active goals with their milestones.
	ListActive(ctx context.Context, userID string) ([]*model.Goal, error)
	AddMilestones(ctx context.Context, goalID string, ms []model.Milestone) error
}

// Markers back once-per-day actions that must run at most once across processes.
type Markers interface {
	// Claim returns true only for the first caller per (user, cycle type, day).
	Claim(ctx context.Context, userID string, cycle model.CycleType, day string, at time.Time) (bool, error)
}
