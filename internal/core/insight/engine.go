// Package insight turns an aggregated user context into a short list of
// suggestions and carries out the urgent actionable ones.
package insight

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/core/feedback"
	"github.com/mycelian/mycelian-companion/internal/dispatch"
	"github.com/mycelian/mycelian-companion/internal/llm"
	"github.com/mycelian/mycelian-companion/internal/llm/jsonx"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

const (
	MaxInsights             = 5
	DefaultReminderLeadTime = 24 * time.Hour
	generationMaxTokens     = 1200
)

// Recorder receives insight counters. Implementations must be cheap.
type Recorder interface {
	InsightsGenerated(n int)
	InsightExecuted(action model.ActionType, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) InsightsGenerated(int)                  {}
func (nopRecorder) InsightExecuted(model.ActionType, bool) {}

type Engine struct {
	store    store.Store
	dispatch dispatch.Dispatcher
	clock    clockwork.Clock
	log      zerolog.Logger
	rec      Recorder
}

func New(st store.Store, d dispatch.Dispatcher, clock clockwork.Clock, log zerolog.Logger, rec Recorder) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Engine{
		store:    st,
		dispatch: d,
		clock:    clock,
		log:      log.With().Str("component", "insight").Logger(),
		rec:      rec,
	}
}

// Generate asks gen for up to MaxInsights suggestions. Every failure degrades to
// an empty list.
func (e *Engine) Generate(ctx context.Context, gen llm.Generator, uc *model.UserContext, fb feedback.Summary) []model.Insight {
	if uc == nil {
		return []model.Insight{}
	}
	pending, err := e.store.Reminders().ListPending(ctx, uc.UserID)
	if err != nil {
		e.log.Warn().Err(err).Str("userID", uc.UserID).Msg("Failed to load pending reminders")
		pending = nil
	}
	prompt := buildPrompt(uc, pending, fb)
	text, err := gen.Judge(ctx, prompt, llm.WithSystem(systemPrompt), llm.WithMaxTokens(generationMaxTokens))
	if err != nil {
		e.log.Warn().Err(err).Str("userID", uc.UserID).Msg("Insight generation failed")
		return []model.Insight{}
	}
	out := e.parse(uc.UserID, text)
	e.rec.InsightsGenerated(len(out))
	e.log.Debug().Str("userID", uc.UserID).Int("count", len(out)).Msg("Insights generated")
	return out
}

type rawInsight struct {
	Type        string          `json:"type"`
	Priority    string          `json:"priority"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Actionable  json.RawMessage `json:"actionable"`
}

func (e *Engine) parse(userID, text string) []model.Insight {
	out := []model.Insight{}
	arr, err := jsonx.FirstArray(text)
	if err != nil {
		e.log.Debug().Str("userID", userID).Msg("No JSON array in generation output")
		return out
	}
	var raws []json.RawMessage
	if err := json.Unmarshal([]byte(arr), &raws); err != nil {
		return out
	}
	now := e.clock.Now()
	for _, r := range raws {
		if len(out) == MaxInsights {
			break
		}
		var ri rawInsight
		if err := json.Unmarshal(r, &ri); err != nil {
			continue
		}
		typ := model.InsightType(strings.TrimSpace(ri.Type))
		title := strings.TrimSpace(ri.Title)
		if !typ.Valid() || title == "" {
			e.log.Debug().Str("userID", userID).Str("type", ri.Type).Msg("Dropping malformed insight")
			continue
		}
		prio := model.InsightPriority(strings.ToLower(strings.TrimSpace(ri.Priority)))
		if !prio.Valid() {
			prio = model.PriorityMedium
		}
		act := e.actionable(userID, ri.Actionable)
		out = append(out, model.Insight{
			ID:          uuid.New().String(),
			UserID:      userID,
			Type:        typ,
			Priority:    prio,
			Title:       title,
			Description: strings.TrimSpace(ri.Description),
			Actionable:  act,
			CreatedAt:   now,
		})
	}
	return out
}

// actionable decodes an optional action. A malformed one is dropped without
// discarding the insight that carried it.
func (e *Engine) actionable(userID string, raw json.RawMessage) *model.Actionable {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var a model.Actionable
	if err := json.Unmarshal(raw, &a); err != nil || a.Type == "" {
		e.log.Debug().Str("userID", userID).RawJSON("actionable", raw).Msg("Dropping malformed actionable")
		return nil
	}
	return &a
}

// Execute performs a high-priority insight's action. Messages are queued on
// batch and sent once per user by MessageBatch.Flush. It reports whether the
// action was carried out.
func (e *Engine) Execute(ctx context.Context, in model.Insight, batch *MessageBatch) bool {
	if in.Priority != model.PriorityHigh || in.Actionable == nil {
		return false
	}
	log := e.log.With().Str("userID", in.UserID).Str("insightID", in.ID).Str("action", string(in.Actionable.Type)).Logger()
	p := payload(in.Actionable.Payload)
	now := e.clock.Now()

	var err error
	switch in.Actionable.Type {
	case model.ActionCreateReminder:
		due, ok := p.when("due_at")
		if !ok {
			due = now.Add(DefaultReminderLeadTime)
		}
		_, err = e.store.Reminders().Create(ctx, &model.Reminder{
			UserID:      in.UserID,
			Title:       p.str("title", in.Title),
			Description: p.strPtr("description"),
			DueAt:       due,
			Status:      model.ReminderPending,
			CreatedAt:   now,
		})
	case model.ActionCreateGoal:
		g := &model.Goal{
			UserID:      in.UserID,
			Title:       p.str("title", in.Title),
			Description: p.strPtr("description"),
			Category:    p.strPtr("category"),
			Status:      model.GoalActive,
			CreatedAt:   now,
		}
		if t, ok := p.when("target_date"); ok {
			g.TargetDate = &t
		}
		_, err = e.store.Goals().Create(ctx, g)
	case model.ActionSendMessage:
		if batch == nil {
			log.Warn().Msg("No message batch; dropping send_message action")
			e.rec.InsightExecuted(in.Actionable.Type, false)
			return false
		}
		batch.Add(p.str("message", in.Description))
	default:
		log.Warn().Msg("Ignoring unknown actionable type")
		e.rec.InsightExecuted(in.Actionable.Type, false)
		return false
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to execute insight")
		e.rec.InsightExecuted(in.Actionable.Type, false)
		return false
	}
	if err := e.store.Insights().MarkActedOn(ctx, in.UserID, in.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to mark insight acted on")
	}
	e.rec.InsightExecuted(in.Actionable.Type, true)
	log.Info().Msg("Insight executed")
	return true
}

// Process runs generate, persist, notify, execute and message flush for one
// user. It returns the insights that were persisted.
func (e *Engine) Process(ctx context.Context, gen llm.Generator, user *model.User, uc *model.UserContext, fb feedback.Summary) []model.Insight {
	generated := e.Generate(ctx, gen, uc, fb)
	batch := NewMessageBatch()
	out := make([]model.Insight, 0, len(generated))
	for _, in := range generated {
		saved, err := e.store.Insights().Create(ctx, &in)
		if err != nil {
			e.log.Error().Err(err).Str("userID", in.UserID).Msg("Failed to persist insight")
			continue
		}
		if saved.Priority == model.PriorityHigh {
			if err := e.dispatch.Notify(ctx, saved.UserID, saved.Title, saved.Description, saved.Priority); err != nil {
				e.log.Warn().Err(err).Str("userID", saved.UserID).Str("insightID", saved.ID).Msg("Failed to notify")
			}
			if saved.Actionable != nil && e.Execute(ctx, *saved, batch) {
				saved.ActedOn = true
			}
		}
		out = append(out, *saved)
	}
	if err := batch.Flush(ctx, e.dispatch, user); err != nil {
		e.log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to send batched message")
	}
	return out
}

// payload reads loosely typed action parameters.
type payload map[string]any

func (p payload) str(key, fallback string) string {
	if v, ok := p[key].(string); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (p payload) strPtr(key string) *string {
	v := p.str(key, "")
	if v == "" {
		return nil
	}
	return &v
}

func (p payload) when(key string) (time.Time, bool) {
	v := p.str(key, "")
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
