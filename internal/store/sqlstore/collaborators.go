package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/mycelian/mycelian-companion/internal/model"
)

// --- Users ---
type users struct{ c *conn }

func (u *users) Create(ctx context.Context, m *model.User) (*model.User, error) {
	out := *m
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.CreatedAt = ts(out.CreatedAt)
	if _, err := u.c.exec(ctx, u.c.db, `INSERT INTO users (id, timezone, phone_number, created_at) VALUES (?,?,?,?)`,
		out.ID, out.Timezone, out.PhoneNumber, out.CreatedAt); err != nil {
		return nil, err
	}
	return &out, nil
}

func (u *users) Get(ctx context.Context, userID string) (*model.User, error) {
	var out model.User
	row := u.c.queryRow(ctx, u.c.db, `SELECT id, timezone, phone_number, created_at FROM users WHERE id=?`, userID)
	if err := row.Scan(&out.ID, &out.Timezone, &out.PhoneNumber, &out.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	out.CreatedAt = out.CreatedAt.UTC()
	return &out, nil
}

func (u *users) List(ctx context.Context) ([]*model.User, error) {
	rows, err := u.c.query(ctx, u.c.db, `SELECT id, timezone, phone_number, created_at FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.User
	for rows.Next() {
		var m model.User
		if err := rows.Scan(&m.ID, &m.Timezone, &m.PhoneNumber, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Credentials ---
type credentials struct{ c *conn }

func (cr *credentials) Put(ctx context.Context, m *model.Credential) error {
	_, err := cr.c.exec(ctx, cr.c.db, `
		INSERT INTO credentials (user_id, provider, api_key, base_url, model, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (user_id) DO UPDATE SET provider=excluded.provider, api_key=excluded.api_key,
			base_url=excluded.base_url, model=excluded.model, updated_at=excluded.updated_at`,
		m.UserID, m.Provider, m.APIKey, m.BaseURL, m.Model, ts(m.UpdatedAt))
	return err
}

func (cr *credentials) Get(ctx context.Context, userID string) (*model.Credential, error) {
	var out model.Credential
	row := cr.c.queryRow(ctx, cr.c.db, `SELECT user_id, provider, api_key, base_url, model, updated_at FROM credentials WHERE user_id=?`, userID)
	if err := row.Scan(&out.UserID, &out.Provider, &out.APIKey, &out.BaseURL, &out.Model, &out.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	out.UpdatedAt = out.UpdatedAt.UTC()
	return &out, nil
}

// --- Patterns ---
type patterns struct{ c *conn }

func (p *patterns) Upsert(ctx context.Context, m *model.Pattern) error {
	id := m.ID
	if id == "" {
		id = uuid.New().String()
		m.ID = id
	}
	_, err := p.c.exec(ctx, p.c.db, `
		INSERT INTO patterns (id, user_id, type, description, confidence, last_observed_at, active, inactive_start_minute, inactive_end_minute)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET type=excluded.type, description=excluded.description,
			confidence=excluded.confidence, last_observed_at=excluded.last_observed_at, active=excluded.active,
			inactive_start_minute=excluded.inactive_start_minute, inactive_end_minute=excluded.inactive_end_minute`,
		id, m.UserID, m.Type, m.Description, m.Confidence, ts(m.LastObservedAt), m.Active,
		intPtr(m.InactiveStartMinute), intPtr(m.InactiveEndMinute))
	return err
}

func (p *patterns) ListActive(ctx context.Context, userID string, minConfidence float64) ([]*model.Pattern, error) {
	rows, err := p.c.query(ctx, p.c.db, `
		SELECT id, user_id, type, description, confidence, last_observed_at, active, inactive_start_minute, inactive_end_minute
		FROM patterns WHERE user_id=? AND active=? AND confidence>?
		ORDER BY confidence DESC, id ASC`, userID, true, minConfidence)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Pattern
	for rows.Next() {
		var m model.Pattern
		var start, end sql.NullInt64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Type, &m.Description, &m.Confidence, &m.LastObservedAt, &m.Active, &start, &end); err != nil {
			return nil, err
		}
		m.LastObservedAt = m.LastObservedAt.UTC()
		m.InactiveStartMinute = fromNullInt(start)
		m.InactiveEndMinute = fromNullInt(end)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Reminders ---
type reminders struct{ c *conn }

func (r *reminders) Create(ctx context.Context, m *model.Reminder) (*model.Reminder, error) {
	out := *m
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.Status == "" {
		out.Status = model.ReminderPending
	}
	out.DueAt = ts(out.DueAt)
	out.CreatedAt = ts(out.CreatedAt)
	if _, err := r.c.exec(ctx, r.c.db, `
		INSERT INTO reminders (id, user_id, title, description, due_at, status, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		out.ID, out.UserID, out.Title, strPtr(out.Description), out.DueAt, string(out.Status), out.CreatedAt); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *reminders) ListPending(ctx context.Context, userID string) ([]*model.Reminder, error) {
	rows, err := r.c.query(ctx, r.c.db, `
		SELECT id, user_id, title, description, due_at, status, created_at
		FROM reminders WHERE user_id=? AND status=? ORDER BY due_at ASC, id ASC`, userID, string(model.ReminderPending))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Reminder
	for rows.Next() {
		var m model.Reminder
		var desc sql.NullString
		var status string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Title, &desc, &m.DueAt, &status, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Description = fromNullString(desc)
		m.Status = model.ReminderStatus(status)
		m.DueAt = m.DueAt.UTC()
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, &m)
	}
	return out, rows.Err()
}

// --- Goals ---
type goals struct{ c *conn }

func (g *goals) Create(ctx context.Context, m *model.Goal) (*model.Goal, error) {
	out := *m
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.Status == "" {
		out.Status = model.GoalActive
	}
	out.CreatedAt = ts(out.CreatedAt)
	err := g.c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := g.c.exec(ctx, tx, `
			INSERT INTO goals (id, user_id, title, description, category, target_date, status, progress, created_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			out.ID, out.UserID, out.Title, strPtr(out.Description), strPtr(out.Category), tsPtr(out.TargetDate),
			string(out.Status), out.Progress, out.CreatedAt); err != nil {
			return err
		}
		return g.insertMilestones(ctx, tx, out.ID, out.Milestones)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *goals) AddMilestones(ctx context.Context, goalID string, ms []model.Milestone) error {
	return g.c.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := g.c.queryRow(ctx, tx, `SELECT 1 FROM goals WHERE id=?`, goalID).Scan(&exists); err != nil {
			return notFound(err)
		}
		return g.insertMilestones(ctx, tx, goalID, ms)
	})
}

func (g *goals) insertMilestones(ctx context.Context, tx *sql.Tx, goalID string, ms []model.Milestone) error {
	for i := range ms {
		m := ms[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if _, err := g.c.exec(ctx, tx, `
			INSERT INTO milestones (id, goal_id, title, position, due_at, completed) VALUES (?,?,?,?,?,?)`,
			m.ID, goalID, m.Title, m.Position, tsPtr(m.DueAt), m.Completed); err != nil {
			return err
		}
	}
	return nil
}

func (g *goals) ListActive(ctx context.Context, userID string) ([]*model.Goal, error) {
	rows, err := g.c.query(ctx, g.c.db, `
		SELECT id, user_id, title, description, category, target_date, status, progress, created_at
		FROM goals WHERE user_id=? AND status=? ORDER BY created_at ASC, id ASC`, userID, string(model.GoalActive))
	if err != nil {
		return nil, err
	}
	var out []*model.Goal
	byID := map[string]*model.Goal{}
	for rows.Next() {
		var m model.Goal
		var desc, cat sql.NullString
		var target sql.NullTime
		var status string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Title, &desc, &cat, &target, &status, &m.Progress, &m.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, err
		}
		m.Description = fromNullString(desc)
		m.Category = fromNullString(cat)
		m.TargetDate = fromNullTime(target)
		m.Status = model.GoalStatus(status)
		m.CreatedAt = m.CreatedAt.UTC()
		m.Milestones = []model.Milestone{}
		out = append(out, &m)
		byID[m.ID] = &m
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]any, 0, len(out))
	for _, m := range out {
		ids = append(ids, m.ID)
	}
	mrows, err := g.c.query(ctx, g.c.db, `
		SELECT id, goal_id, title, position, due_at, completed FROM milestones
		WHERE goal_id IN (`+placeholders(len(ids))+`) ORDER BY goal_id, position ASC`, ids...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = mrows.Close() }()
	for mrows.Next() {
		var ms model.Milestone
		var due sql.NullTime
		if err := mrows.Scan(&ms.ID, &ms.GoalID, &ms.Title, &ms.Position, &due, &ms.Completed); err != nil {
			return nil, err
		}
		ms.DueAt = fromNullTime(due)
		if goal := byID[ms.GoalID]; goal != nil {
			goal.Milestones = append(goal.Milestones, ms)
		}
	}
	return out, mrows.Err()
}

// --- Markers ---
type markers struct{ c *conn }

func (mk *markers) Claim(ctx context.Context, userID string, cycle model.CycleType, day string, at time.Time) (bool, error) {
	res, err := mk.c.exec(ctx, mk.c.db, `
		INSERT INTO daily_markers (user_id, cycle_type, day, claimed_at) VALUES (?,?,?,?)
		ON CONFLICT (user_id, cycle_type, day) DO NOTHING`, userID, string(cycle), day, ts(at))
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

func intPtr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func fromNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
