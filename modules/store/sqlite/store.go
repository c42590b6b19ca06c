package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store backed by SQLite. Each project's running
// total and revision live in the projects table and are adjusted in the
// same transaction as the item write. A project row outlives its items
// so that revisions never repeat.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const itemColumns = `id, content, type, priority, tokens, relevance, source, session_id,
	created_at, tags, compressed, original_tokens`

// Snapshot implements store.Store.
func (s *Store) Snapshot(ctx context.Context, project string) (store.Snapshot, error) {
	if err := store.ValidateProject(project); err != nil {
		return store.Snapshot{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := store.Snapshot{Project: project, Items: []ctxengine.Item{}}
	if snap.Total, snap.Revision, err = projectState(ctx, tx, project); err != nil {
		return store.Snapshot{}, err
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM items WHERE project = ? ORDER BY seq", project)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("sqlite: query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items, err := scanItems(rows)
	if err != nil {
		return store.Snapshot{}, err
	}
	if len(items) > 0 {
		snap.Items = items
	}
	return snap, nil
}

// Put implements store.Store.
func (s *Store) Put(ctx context.Context, project string, item ctxengine.Item) (int, error) {
	if err := store.ValidateProject(project); err != nil {
		return 0, err
	}
	if err := item.Validate(); err != nil {
		return 0, err
	}

	var total int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var old int
		err := tx.QueryRowContext(ctx,
			"SELECT tokens FROM items WHERE project = ? AND id = ?", project, item.ID).Scan(&old)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := insertItem(ctx, tx, project, item, -1); err != nil {
				return err
			}
			old = 0
		case err != nil:
			return fmt.Errorf("sqlite: read item: %w", err)
		default:
			if err := updateItem(ctx, tx, project, item); err != nil {
				return err
			}
		}
		total, err = adjustTotal(ctx, tx, project, item.Tokens-old)
		return err
	})
	return total, err
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, project, id string) (int, error) {
	if err := store.ValidateProject(project); err != nil {
		return 0, err
	}

	var total int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var tokens int
		err := tx.QueryRowContext(ctx,
			"SELECT tokens FROM items WHERE project = ? AND id = ?", project, id).Scan(&tokens)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", store.ErrNotFound, project, id)
		}
		if err != nil {
			return fmt.Errorf("sqlite: read item: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE project = ? AND id = ?", project, id); err != nil {
			return fmt.Errorf("sqlite: delete item: %w", err)
		}
		total, err = adjustTotal(ctx, tx, project, -tokens)
		return err
	})
	return total, err
}

// Replace implements store.Store.
func (s *Store) Replace(ctx context.Context, project string, items []ctxengine.Item) error {
	if err := store.ValidateProject(project); err != nil {
		return err
	}
	if err := store.ValidateItems(items); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return replaceItems(ctx, tx, project, items)
	})
}

// ReplaceIf implements store.Store.
func (s *Store) ReplaceIf(ctx context.Context, project string, items []ctxengine.Item, revision uint64) error {
	if err := store.ValidateProject(project); err != nil {
		return err
	}
	if err := store.ValidateItems(items); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, cur, err := projectState(ctx, tx, project)
		if err != nil {
			return err
		}
		if cur != revision {
			return fmt.Errorf("%w: %s at revision %d, expected %d", store.ErrConflict, project, cur, revision)
		}
		return replaceItems(ctx, tx, project, items)
	})
}

func replaceItems(ctx context.Context, tx *sql.Tx, project string, items []ctxengine.Item) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE project = ?", project); err != nil {
		return fmt.Errorf("sqlite: clear items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE projects SET total_tokens = 0 WHERE name = ?", project); err != nil {
		return fmt.Errorf("sqlite: clear total: %w", err)
	}
	for i := range items {
		if err := insertItem(ctx, tx, project, items[i], i+1); err != nil {
			return err
		}
	}
	_, err := adjustTotal(ctx, tx, project, ctxengine.TotalTokens(items))
	return err
}

// Projects implements store.Store.
func (s *Store) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT project FROM items ORDER BY project")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan project: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan projects rows: %w", err)
	}
	return names, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.logger.Info("sqlite context store closing")
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func projectState(ctx context.Context, tx *sql.Tx, project string) (total int, revision uint64, err error) {
	err = tx.QueryRowContext(ctx,
		"SELECT total_tokens, revision FROM projects WHERE name = ?", project).Scan(&total, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("sqlite: read project: %w", err)
	}
	return total, revision, nil
}

// adjustTotal adds delta to the project's running total, bumps its
// revision and returns the new total.
func adjustTotal(ctx context.Context, tx *sql.Tx, project string, delta int) (int, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (name, total_tokens, revision) VALUES (?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET
			total_tokens = total_tokens + excluded.total_tokens,
			revision = revision + 1`,
		project, delta,
	); err != nil {
		return 0, fmt.Errorf("sqlite: adjust total: %w", err)
	}
	total, _, err := projectState(ctx, tx, project)
	return total, err
}

// insertItem appends item to the project. A negative seq means after the
// current last item.
func insertItem(ctx context.Context, tx *sql.Tx, project string, item ctxengine.Item, seq int) error {
	if seq < 0 {
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), 0) + 1 FROM items WHERE project = ?", project).Scan(&seq); err != nil {
			return fmt.Errorf("sqlite: next seq: %w", err)
		}
	}
	tags, err := marshalTags(item.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO items (project, seq, `+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		project, seq,
		item.ID, item.Content, string(item.Type), item.Priority, item.Tokens, nullFloat(item.Relevance),
		item.Source, item.SessionID, formatTime(item.CreatedAt), tags, item.Compressed, item.OriginalTokens,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert item: %w", err)
	}
	return nil
}

func updateItem(ctx context.Context, tx *sql.Tx, project string, item ctxengine.Item) error {
	tags, err := marshalTags(item.Tags)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE items SET content = ?, type = ?, priority = ?, tokens = ?, relevance = ?, source = ?,
			session_id = ?, created_at = ?, tags = ?, compressed = ?, original_tokens = ?
		WHERE project = ? AND id = ?`,
		item.Content, string(item.Type), item.Priority, item.Tokens, nullFloat(item.Relevance), item.Source,
		item.SessionID, formatTime(item.CreatedAt), tags, item.Compressed, item.OriginalTokens,
		project, item.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update item: %w", err)
	}
	return nil
}

func scanItems(rows *sql.Rows) ([]ctxengine.Item, error) {
	var items []ctxengine.Item
	for rows.Next() {
		var (
			it           ctxengine.Item
			typ          string
			relevance    sql.NullFloat64
			createdAtStr string
			tagsJSON     string
		)
		if err := rows.Scan(&it.ID, &it.Content, &typ, &it.Priority, &it.Tokens, &relevance, &it.Source,
			&it.SessionID, &createdAtStr, &tagsJSON, &it.Compressed, &it.OriginalTokens); err != nil {
			return nil, fmt.Errorf("sqlite: scan item: %w", err)
		}
		it.Type = ctxengine.ItemType(typ)

		if relevance.Valid {
			r := relevance.Float64
			it.Relevance = &r
		}

		if tagsJSON != "" && tagsJSON != "[]" && tagsJSON != "null" {
			if err := json.Unmarshal([]byte(tagsJSON), &it.Tags); err != nil {
				return nil, fmt.Errorf("sqlite: unmarshal tags: %w", err)
			}
		}

		if createdAtStr != "" {
			t, err := time.Parse(time.RFC3339Nano, createdAtStr)
			if err != nil {
				return nil, fmt.Errorf("sqlite: parse created_at %q: %w", createdAtStr, err)
			}
			it.CreatedAt = t
		}

		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan items rows: %w", err)
	}
	return items, nil
}

func marshalTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal tags: %w", err)
	}
	return string(data), nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
