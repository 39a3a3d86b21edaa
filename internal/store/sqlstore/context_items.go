package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

type contextItems struct{ c *conn }

const contextColumns = `id, user_id, category, content, relevance, relevance_score, time_window, observed_at, expires_at, metadata`

func encodeItem(ci *model.ContextItem) (*model.ContextItem, any, error) {
	out := *ci
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.Timestamp = ts(out.Timestamp)
	if out.ExpiresAt != nil {
		e := ts(*out.ExpiresAt)
		out.ExpiresAt = &e
	}
	var meta any
	if out.Metadata != nil {
		raw, err := model.EncodeMetadata(out.Metadata)
		if err != nil {
			return nil, nil, err
		}
		meta = string(raw)
	}
	return &out, meta, nil
}

func (c *contextItems) Put(ctx context.Context, ci *model.ContextItem) (*model.ContextItem, error) {
	out, meta, err := encodeItem(ci)
	if err != nil {
		return nil, err
	}
	err = c.c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := c.c.exec(ctx, tx, `DELETE FROM context_items WHERE id=? AND user_id=?`, out.ID, out.UserID); err != nil {
			return err
		}
		return c.insert(ctx, tx, out, meta)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *contextItems) insert(ctx context.Context, q querier, out *model.ContextItem, meta any) error {
	_, err := c.c.exec(ctx, q, `INSERT INTO context_items (`+contextColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		out.ID, out.UserID, string(out.Category), out.Content, int(out.Relevance), out.RelevanceScore,
		string(out.TimeWindow), out.Timestamp, tsPtr(out.ExpiresAt), meta)
	return err
}

// UpsertCurrentState overwrites the user's current_state row in place, keeping
// its id, or inserts one. A partial unique index backs the single-row rule.
func (c *contextItems) UpsertCurrentState(ctx context.Context, ci *model.ContextItem) (*model.ContextItem, error) {
	out, meta, err := encodeItem(ci)
	if err != nil {
		return nil, err
	}
	out.Category = model.CategoryCurrentState
	err = c.c.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := c.c.queryRow(ctx, tx, `SELECT id FROM context_items WHERE user_id=? AND category='current_state'`, out.UserID).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return c.insert(ctx, tx, out, meta)
		case err != nil:
			return err
		}
		out.ID = existing
		_, err = c.c.exec(ctx, tx, `
			UPDATE context_items SET content=?, relevance=?, relevance_score=?, time_window=?, observed_at=?,
				expires_at=?, metadata=?
			WHERE id=?`,
			out.Content, int(out.Relevance), out.RelevanceScore, string(out.TimeWindow), out.Timestamp,
			tsPtr(out.ExpiresAt), meta, existing)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *contextItems) List(ctx context.Context, f store.ContextItemFilter) ([]*model.ContextItem, error) {
	where := []string{"user_id=?", "(expires_at IS NULL OR expires_at>?)"}
	args := []any{f.UserID, ts(f.Now)}
	if len(f.Categories) > 0 {
		where = append(where, "category IN ("+placeholders(len(f.Categories))+")")
		for _, cat := range f.Categories {
			args = append(args, string(cat))
		}
	}
	if f.Since != nil {
		where = append(where, "observed_at>=?")
		args = append(args, ts(*f.Since))
	}
	if f.MinScore > 0 {
		where = append(where, "relevance_score>=?")
		args = append(args, f.MinScore)
	}
	rows, err := c.c.query(ctx, c.c.db, `SELECT `+contextColumns+` FROM context_items WHERE `+
		strings.Join(where, " AND ")+` ORDER BY relevance_score DESC, observed_at DESC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.ContextItem
	for rows.Next() {
		ci, err := scanContextItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

func (c *contextItems) CountCurrentState(ctx context.Context, userID string) (int, error) {
	var n int
	err := c.c.queryRow(ctx, c.c.db, `SELECT COUNT(*) FROM context_items WHERE user_id=? AND category='current_state'`, userID).Scan(&n)
	return n, err
}

func (c *contextItems) PurgeExpired(ctx context.Context, userID string, now time.Time) (int64, error) {
	q := `DELETE FROM context_items WHERE expires_at IS NOT NULL AND expires_at<=?`
	args := []any{ts(now)}
	if userID != "" {
		q += ` AND user_id=?`
		args = append(args, userID)
	}
	res, err := c.c.exec(ctx, c.c.db, q, args...)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

func scanContextItem(r scanner) (*model.ContextItem, error) {
	var (
		out              model.ContextItem
		category, window string
		relevance        int
		expires          sql.NullTime
		meta             sql.NullString
	)
	if err := r.Scan(&out.ID, &out.UserID, &category, &out.Content, &relevance, &out.RelevanceScore,
		&window, &out.Timestamp, &expires, &meta); err != nil {
		return nil, err
	}
	out.Category = model.ContextCategory(category)
	out.TimeWindow = model.TimeWindow(window)
	out.Relevance = model.Relevance(relevance)
	out.Timestamp = out.Timestamp.UTC()
	out.ExpiresAt = fromNullTime(expires)
	if meta.Valid && meta.String != "" {
		md, err := model.DecodeMetadata([]byte(meta.String))
		if err != nil {
			return nil, err
		}
		out.Metadata = md
	}
	return &out, nil
}
