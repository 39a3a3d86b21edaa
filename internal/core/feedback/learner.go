// Package feedback records dismissed insights and summarizes them so future
// generation can steer away from what the user keeps rejecting.
package feedback

import (
	"context"
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

const (
	// MinDismissalsPerType is how often a type must be dismissed to be down-weighted.
	MinDismissalsPerType = 2
	RecentTopics         = 20
)

// Summary is the read-only aggregation handed to the insight engine.
type Summary struct {
	DismissedTypes  []string `json:"dismissedTypes"`
	DismissedTopics []string `json:"dismissedTopics"`
	TotalDismissals int      `json:"totalDismissals"`
}

// Empty reports whether there is nothing to steer away from.
func (s Summary) Empty() bool {
	return len(s.DismissedTypes) == 0 && len(s.DismissedTopics) == 0
}

type Learner struct {
	store store.Store
	clock clockwork.Clock
	log   zerolog.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func New(st store.Store, clock clockwork.Clock, log zerolog.Logger) *Learner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Learner{
		store:   st,
		clock:   clock,
		log:     log.With().Str("component", "feedback").Logger(),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// RecordDismissal marks the insight dismissed and appends a feedback record.
// It never fails the caller; false means nothing was recorded.
func (l *Learner) RecordDismissal(ctx context.Context, userID, insightID string, reason *string) bool {
	in, err := l.store.Insights().Get(ctx, userID, insightID)
	if err != nil {
		l.log.Warn().Err(err).Str("userID", userID).Str("insightID", insightID).Msg("Dismissed insight not found")
		return false
	}
	if err := l.store.Insights().MarkDismissed(ctx, userID, insightID); err != nil {
		l.log.Warn().Err(err).Str("userID", userID).Str("insightID", insightID).Msg("Failed to mark insight dismissed")
	}
	now := l.clock.Now()
	rec := &model.FeedbackRecord{
		ID:                 l.newID(now),
		UserID:             userID,
		InsightType:        in.Type,
		InsightTitle:       in.Title,
		InsightDescription: in.Description,
		FeedbackType:       model.FeedbackDismissed,
		Reason:             reason,
		CreatedAt:          now,
	}
	if err := l.store.Feedback().Append(ctx, rec); err != nil {
		l.log.Error().Err(err).Str("userID", userID).Str("insightID", insightID).Msg("Failed to append feedback record")
		return false
	}
	l.log.Info().Str("userID", userID).Str("insightID", insightID).Str("type", string(in.Type)).Msg("Insight dismissed")
	return true
}

// Summarize aggregates a user's dismissals. Read failures yield an empty summary.
func (l *Learner) Summarize(ctx context.Context, userID string) Summary {
	out := Summary{DismissedTypes: []string{}, DismissedTopics: []string{}}

	counts, err := l.store.Feedback().CountByType(ctx, userID)
	if err != nil {
		l.log.Warn().Err(err).Str("userID", userID).Msg("Failed to count dismissals")
		return out
	}
	for typ, n := range counts {
		out.TotalDismissals += n
		if n >= MinDismissalsPerType {
			out.DismissedTypes = append(out.DismissedTypes, string(typ))
		}
	}
	sort.Slice(out.DismissedTypes, func(i, j int) bool {
		a, b := out.DismissedTypes[i], out.DismissedTypes[j]
		ca, cb := counts[model.InsightType(a)], counts[model.InsightType(b)]
		if ca != cb {
			return ca > cb
		}
		return a < b
	})

	recent, err := l.store.Feedback().Recent(ctx, userID, RecentTopics)
	if err != nil {
		l.log.Warn().Err(err).Str("userID", userID).Msg("Failed to load recent dismissals")
		return out
	}
	for _, r := range recent {
		out.DismissedTopics = append(out.DismissedTopics, r.InsightTitle)
	}
	return out
}

// newID returns a time-sortable id; the entropy source is not goroutine safe.
func (l *Learner) newID(now time.Time) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), l.entropy).String()
}
