package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mycelian/mycelian-companion/internal/model"
)

type memories struct{ c *conn }

const memoryColumns = `id, user_id, type, content, summary, importance, status, tags, related_ids,
	created_at, updated_at, expires_at, archived_at, last_accessed_at, access_count`

func (m *memories) Create(ctx context.Context, mm *model.Memory) (*model.Memory, error) {
	out := *mm
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.Status == "" {
		out.Status = model.MemoryActive
	}
	out.CreatedAt = ts(out.CreatedAt)
	out.UpdatedAt = ts(out.UpdatedAt)
	out.Tags = nonNil(out.Tags)
	out.RelatedMemoryIDs = nonNil(out.RelatedMemoryIDs)

	tagsJSON, err := jsonText(out.Tags)
	if err != nil {
		return nil, err
	}
	relJSON, err := jsonText(out.RelatedMemoryIDs)
	if err != nil {
		return nil, err
	}

	err = m.c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := m.c.exec(ctx, tx, `
			INSERT INTO memories (`+memoryColumns+`)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			out.ID, out.UserID, string(out.Type), out.Content, strPtr(out.Summary), int(out.Importance),
			string(out.Status), tagsJSON, relJSON, out.CreatedAt, out.UpdatedAt,
			tsPtr(out.ExpiresAt), tsPtr(out.ArchivedAt), tsPtr(out.LastAccessedAt), out.AccessCount,
		); err != nil {
			return err
		}
		return m.writeTags(ctx, tx, out.ID, out.UserID, out.Tags)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *memories) writeTags(ctx context.Context, tx *sql.Tx, memoryID, userID string, tags []string) error {
	if _, err := m.c.exec(ctx, tx, `DELETE FROM memory_tags WHERE memory_id=?`, memoryID); err != nil {
		return err
	}
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		if seen[t] {
			continue
		}
		seen[t] = true
		if _, err := m.c.exec(ctx, tx, `INSERT INTO memory_tags (memory_id, user_id, tag) VALUES (?,?,?)`, memoryID, userID, t); err != nil {
			return err
		}
	}
	return nil
}

func (m *memories) Get(ctx context.Context, userID, memoryID string) (*model.Memory, error) {
	row := m.c.queryRow(ctx, m.c.db, `SELECT `+memoryColumns+` FROM memories
		WHERE user_id=? AND id=? AND status<>'deleted'`, userID, memoryID)
	out, err := scanMemory(row)
	if err != nil {
		return nil, notFound(err)
	}
	return out, nil
}

func (m *memories) Update(ctx context.Context, mm *model.Memory) (*model.Memory, error) {
	out := *mm
	out.UpdatedAt = ts(out.UpdatedAt)
	out.Tags = nonNil(out.Tags)
	out.RelatedMemoryIDs = nonNil(out.RelatedMemoryIDs)
	tagsJSON, err := jsonText(out.Tags)
	if err != nil {
		return nil, err
	}
	relJSON, err := jsonText(out.RelatedMemoryIDs)
	if err != nil {
		return nil, err
	}
	err = m.c.withTx(ctx, func(tx *sql.Tx) error {
		res, err := m.c.exec(ctx, tx, `
			UPDATE memories SET content=?, summary=?, importance=?, status=?, tags=?, related_ids=?,
				updated_at=?, expires_at=?, archived_at=?
			WHERE user_id=? AND id=? AND status<>'deleted'`,
			out.Content, strPtr(out.Summary), int(out.Importance), string(out.Status), tagsJSON, relJSON,
			out.UpdatedAt, tsPtr(out.ExpiresAt), tsPtr(out.ArchivedAt), out.UserID, out.ID)
		if err != nil {
			return err
		}
		if affected(res) == 0 {
			return model.ErrNotFound
		}
		return m.writeTags(ctx, tx, out.ID, out.UserID, out.Tags)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *memories) List(ctx context.Context, f model.MemoryFilter) ([]*model.Memory, int64, error) {
	where := []string{"user_id=?", "status<>'deleted'"}
	args := []any{f.UserID}
	if len(f.Types) > 0 {
		where = append(where, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if f.MinImportance > 0 {
		where = append(where, "importance>=?")
		args = append(args, int(f.MinImportance))
	}
	if len(f.Tags) > 0 {
		where = append(where, "EXISTS (SELECT 1 FROM memory_tags t WHERE t.memory_id=memories.id AND t.tag IN ("+placeholders(len(f.Tags))+"))")
		for _, t := range f.Tags {
			args = append(args, t)
		}
	}
	if f.CreatedAfter != nil {
		where = append(where, "created_at>=?")
		args = append(args, ts(*f.CreatedAfter))
	}
	if f.CreatedBefore != nil {
		where = append(where, "created_at<=?")
		args = append(args, ts(*f.CreatedBefore))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := m.c.queryRow(ctx, m.c.db, `SELECT COUNT(*) FROM memories WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + memoryColumns + ` FROM memories WHERE ` + cond + ` ORDER BY created_at DESC, id ASC`
	pageArgs := append([]any{}, args...)
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		pageArgs = append(pageArgs, f.Limit, f.Offset)
	}
	rows, err := m.c.query(ctx, m.c.db, q, pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Memory
	for rows.Next() {
		mm, err := scanMemory(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, mm)
	}
	return out, total, rows.Err()
}

func (m *memories) TouchAccess(ctx context.Context, userID string, ids []string, at time.Time) (map[string]model.AccessStats, error) {
	if len(ids) == 0 {
		return map[string]model.AccessStats{}, nil
	}
	at = ts(at)
	args := []any{at, at, userID}
	for _, id := range ids {
		args = append(args, id)
	}
	var out map[string]model.AccessStats
	err := m.c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := m.c.exec(ctx, tx, `
			UPDATE memories SET access_count=access_count+1,
				last_accessed_at=CASE WHEN last_accessed_at IS NULL OR last_accessed_at<? THEN ? ELSE last_accessed_at END
			WHERE user_id=? AND status<>'deleted' AND id IN (`+placeholders(len(ids))+`)`, args...); err != nil {
			return err
		}
		var err error
		out, err = m.accessStats(ctx, tx, userID, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *memories) AccessStats(ctx context.Context, userID string, ids []string) (map[string]model.AccessStats, error) {
	if len(ids) == 0 {
		return map[string]model.AccessStats{}, nil
	}
	return m.accessStats(ctx, m.c.db, userID, ids)
}

func (m *memories) accessStats(ctx context.Context, q querier, userID string, ids []string) (map[string]model.AccessStats, error) {
	args := []any{userID}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := m.c.query(ctx, q, `
		SELECT id, access_count, last_accessed_at FROM memories
		WHERE user_id=? AND status<>'deleted' AND id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]model.AccessStats, len(ids))
	for rows.Next() {
		var (
			id   string
			st   model.AccessStats
			last sql.NullTime
		)
		if err := rows.Scan(&id, &st.AccessCount, &last); err != nil {
			return nil, err
		}
		st.LastAccessedAt = fromNullTime(last)
		out[id] = st
	}
	return out, rows.Err()
}

func (m *memories) Stats(ctx context.Context, userID string) (*model.MemoryStats, error) {
	rows, err := m.c.query(ctx, m.c.db, `
		SELECT type, status, importance, COUNT(*) FROM memories
		WHERE user_id=? AND status<>'deleted'
		GROUP BY type, status, importance`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := &model.MemoryStats{
		ByType:       map[model.MemoryType]int64{},
		ByStatus:     map[model.MemoryStatus]int64{},
		ByImportance: map[model.Importance]int64{},
	}
	for rows.Next() {
		var typ, status string
		var imp int
		var n int64
		if err := rows.Scan(&typ, &status, &imp, &n); err != nil {
			return nil, err
		}
		out.Total += n
		out.ByType[model.MemoryType(typ)] += n
		out.ByStatus[model.MemoryStatus(status)] += n
		out.ByImportance[model.Importance(imp)] += n
	}
	return out, rows.Err()
}

func (m *memories) ArchiveExpired(ctx context.Context, now time.Time) ([]string, error) {
	now = ts(now)
	rows, err := m.c.query(ctx, m.c.db, `
		UPDATE memories SET status='archived', archived_at=?, updated_at=?
		WHERE status='active' AND expires_at IS NOT NULL AND expires_at<=?
		RETURNING user_id`, now, now, now)
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

func (m *memories) DeleteArchivedBefore(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	rows, err := m.c.query(ctx, m.c.db, `
		UPDATE memories SET status='deleted', updated_at=?
		WHERE status='archived' AND archived_at IS NOT NULL AND archived_at<=?
		RETURNING user_id`, ts(now), ts(cutoff))
	if err != nil {
		return nil, err
	}
	return collectStrings(rows)
}

type scanner interface{ Scan(dest ...any) error }

func scanMemory(r scanner) (*model.Memory, error) {
	var (
		out                            model.Memory
		typ, status, tags, related     string
		summary                        sql.NullString
		imp                            int
		expires, archived, lastAccessd sql.NullTime
	)
	if err := r.Scan(&out.ID, &out.UserID, &typ, &out.Content, &summary, &imp, &status, &tags, &related,
		&out.CreatedAt, &out.UpdatedAt, &expires, &archived, &lastAccessd, &out.AccessCount); err != nil {
		return nil, err
	}
	out.Type = model.MemoryType(typ)
	out.Status = model.MemoryStatus(status)
	out.Importance = model.Importance(imp)
	out.Summary = fromNullString(summary)
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = out.UpdatedAt.UTC()
	out.ExpiresAt = fromNullTime(expires)
	out.ArchivedAt = fromNullTime(archived)
	out.LastAccessedAt = fromNullTime(lastAccessd)
	if err := json.Unmarshal([]byte(tags), &out.Tags); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(related), &out.RelatedMemoryIDs); err != nil {
		return nil, err
	}
	out.Tags = nonNil(out.Tags)
	out.RelatedMemoryIDs = nonNil(out.RelatedMemoryIDs)
	return &out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
