package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/mycelian/mycelian-companion/internal/model"
)

// --- Insights ---
type insights struct{ c *conn }

const insightColumns = `id, user_id, type, priority, title, description, actionable, acted_on, dismissed, created_at`

func (s *insights) Create(ctx context.Context, in *model.Insight) (*model.Insight, error) {
	out := *in
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.CreatedAt = ts(out.CreatedAt)
	var action any
	if out.Actionable != nil {
		b, err := json.Marshal(out.Actionable)
		if err != nil {
			return nil, err
		}
		action = string(b)
	}
	if _, err := s.c.exec(ctx, s.c.db, `INSERT INTO insights (`+insightColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		out.ID, out.UserID, string(out.Type), string(out.Priority), out.Title, out.Description, action,
		out.ActedOn, out.Dismissed, out.CreatedAt); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *insights) Get(ctx context.Context, userID, insightID string) (*model.Insight, error) {
	row := s.c.queryRow(ctx, s.c.db, `SELECT `+insightColumns+` FROM insights WHERE user_id=? AND id=?`, userID, insightID)
	out, err := scanInsight(row)
	if err != nil {
		return nil, notFound(err)
	}
	return out, nil
}

func (s *insights) List(ctx context.Context, userID string, includeDismissed bool, limit int) ([]*model.Insight, error) {
	q := `SELECT ` + insightColumns + ` FROM insights WHERE user_id=?`
	args := []any{userID}
	if !includeDismissed {
		q += ` AND dismissed=?`
		args = append(args, false)
	}
	q += ` ORDER BY created_at DESC, id ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.c.query(ctx, s.c.db, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Insight
	for rows.Next() {
		in, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *insights) MarkActedOn(ctx context.Context, userID, insightID string) error {
	return s.setFlag(ctx, "acted_on", userID, insightID)
}

func (s *insights) MarkDismissed(ctx context.Context, userID, insightID string) error {
	return s.setFlag(ctx, "dismissed", userID, insightID)
}

func (s *insights) setFlag(ctx context.Context, column, userID, insightID string) error {
	res, err := s.c.exec(ctx, s.c.db, `UPDATE insights SET `+column+`=? WHERE user_id=? AND id=?`, true, userID, insightID)
	if err != nil {
		return err
	}
	if affected(res) == 0 {
		return model.ErrNotFound
	}
	return nil
}

func scanInsight(r scanner) (*model.Insight, error) {
	var (
		out           model.Insight
		typ, priority string
		action        sql.NullString
	)
	if err := r.Scan(&out.ID, &out.UserID, &typ, &priority, &out.Title, &out.Description, &action,
		&out.ActedOn, &out.Dismissed, &out.CreatedAt); err != nil {
		return nil, err
	}
	out.Type = model.InsightType(typ)
	out.Priority = model.InsightPriority(priority)
	out.CreatedAt = out.CreatedAt.UTC()
	if action.Valid && action.String != "" {
		var a model.Actionable
		if err := json.Unmarshal([]byte(action.String), &a); err != nil {
			return nil, err
		}
		out.Actionable = &a
	}
	return &out, nil
}

// --- Feedback ---
type feedback struct{ c *conn }

func (f *feedback) Append(ctx context.Context, r *model.FeedbackRecord) error {
	_, err := f.c.exec(ctx, f.c.db, `
		INSERT INTO feedback_records (id, user_id, insight_type, insight_title, insight_description, feedback_type, reason, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		r.ID, r.UserID, string(r.InsightType), r.InsightTitle, r.InsightDescription, string(r.FeedbackType),
		strPtr(r.Reason), ts(r.CreatedAt))
	return err
}

func (f *feedback) Recent(ctx context.Context, userID string, limit int) ([]*model.FeedbackRecord, error) {
	q := `SELECT id, user_id, insight_type, insight_title, insight_description, feedback_type, reason, created_at
		FROM feedback_records WHERE user_id=? AND feedback_type=? ORDER BY created_at DESC, id DESC`
	args := []any{userID, string(model.FeedbackDismissed)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := f.c.query(ctx, f.c.db, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.FeedbackRecord
	for rows.Next() {
		var r model.FeedbackRecord
		var typ, ftype string
		var reason sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &typ, &r.InsightTitle, &r.InsightDescription, &ftype, &reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.InsightType = model.InsightType(typ)
		r.FeedbackType = model.FeedbackType(ftype)
		r.Reason = fromNullString(reason)
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (f *feedback) CountByType(ctx context.Context, userID string) (map[model.InsightType]int, error) {
	rows, err := f.c.query(ctx, f.c.db, `
		SELECT insight_type, COUNT(*) FROM feedback_records
		WHERE user_id=? AND feedback_type=? GROUP BY insight_type`, userID, string(model.FeedbackDismissed))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := map[model.InsightType]int{}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[model.InsightType(typ)] = n
	}
	return out, rows.Err()
}
