// Package reviewqueue persists negative-feedback items and the learning
// counters in an embedded SQLite database.
//
// One transaction covers a review append and its counter update, so a reader
// never observes an item without its increment or vice versa. The database
// runs in WAL mode; appends are durable when the transaction commits.
package reviewqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sphota-ai/sphota/internal/model"
)

// ErrNotFound is returned by MarkReviewed for an unknown item id.
var ErrNotFound = errors.New("reviewqueue: item not found")

const schema = `
CREATE TABLE IF NOT EXISTS review_items (
	item_id            TEXT PRIMARY KEY,
	request_id         TEXT NOT NULL,
	original_input     TEXT NOT NULL,
	resolved_intent_id TEXT NOT NULL,
	user_correction    TEXT NOT NULL,
	confidence_at_time REAL NOT NULL,
	created_at         TEXT NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	notes              TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_review_items_status ON review_items(status);

CREATE TABLE IF NOT EXISTS learning_stats (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	total_feedbacks     INTEGER NOT NULL DEFAULT 0,
	correct_feedbacks   INTEGER NOT NULL DEFAULT 0,
	incorrect_feedbacks INTEGER NOT NULL DEFAULT 0,
	last_update         TEXT NOT NULL DEFAULT ''
);

INSERT OR IGNORE INTO learning_stats (id) VALUES (1);
`

// Store is the durable review queue plus the single-row learning counters.
// Safe for concurrent use; SQLite serialises writers.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("reviewqueue: open %s: %w", path, err)
	}
	// modernc/sqlite is embedded; one connection avoids writer contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reviewqueue: apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// AppendReview inserts a pending item and bumps the incorrect counter in one
// transaction. Returns the counters as of after the append.
func (s *Store) AppendReview(ctx context.Context, item model.ReviewItem) (model.LearningStats, error) {
	var stats model.LearningStats
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO review_items
				(item_id, request_id, original_input, resolved_intent_id,
				 user_correction, confidence_at_time, created_at, status, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ItemID, item.RequestID, item.OriginalInput, item.ResolvedIntentID,
			item.UserCorrection, item.ConfidenceAtTime,
			item.CreatedAt.UTC().Format(time.RFC3339Nano), string(item.Status), item.Notes)
		if err != nil {
			return fmt.Errorf("insert review item: %w", err)
		}
		return s.bumpTx(ctx, tx, &stats, false, item.CreatedAt)
	})
	return stats, err
}

// RecordSuccess bumps the correct counter. Returns the updated counters.
func (s *Store) RecordSuccess(ctx context.Context, at time.Time) (model.LearningStats, error) {
	var stats model.LearningStats
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return s.bumpTx(ctx, tx, &stats, true, at)
	})
	return stats, err
}

func (s *Store) bumpTx(ctx context.Context, tx *sql.Tx, out *model.LearningStats, correct bool, at time.Time) error {
	col := "incorrect_feedbacks"
	if correct {
		col = "correct_feedbacks"
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE learning_stats
		SET total_feedbacks = total_feedbacks + 1,
		    %s = %s + 1,
		    last_update = ?
		WHERE id = 1`, col, col),
		at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	row := tx.QueryRowContext(ctx, `
		SELECT total_feedbacks, correct_feedbacks, incorrect_feedbacks, last_update
		FROM learning_stats WHERE id = 1`)
	return scanStats(row, out)
}

// ListPending returns pending items in append order.
func (s *Store) ListPending(ctx context.Context) ([]model.ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, request_id, original_input, resolved_intent_id,
		       user_correction, confidence_at_time, created_at, status, notes
		FROM review_items
		WHERE status = ?
		ORDER BY rowid`, string(model.ReviewPending))
	if err != nil {
		return nil, fmt.Errorf("reviewqueue: list pending: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var items []model.ReviewItem
	for rows.Next() {
		var it model.ReviewItem
		var createdAt, status string
		if err := rows.Scan(&it.ItemID, &it.RequestID, &it.OriginalInput, &it.ResolvedIntentID,
			&it.UserCorrection, &it.ConfidenceAtTime, &createdAt, &status, &it.Notes); err != nil {
			return nil, fmt.Errorf("reviewqueue: scan item: %w", err)
		}
		it.Status = model.ReviewItemStatus(status)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			it.CreatedAt = t
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reviewqueue: iterate items: %w", err)
	}
	return items, nil
}

// PendingCount returns the number of pending items.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_items WHERE status = ?`, string(model.ReviewPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("reviewqueue: count pending: %w", err)
	}
	return n, nil
}

// MarkReviewed transitions a pending item to reviewed. ErrNotFound if the id
// does not exist or was already reviewed.
func (s *Store) MarkReviewed(ctx context.Context, itemID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE review_items SET status = ? WHERE item_id = ? AND status = ?`,
		string(model.ReviewReviewed), itemID, string(model.ReviewPending))
	if err != nil {
		return fmt.Errorf("reviewqueue: mark reviewed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reviewqueue: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, itemID)
	}
	return nil
}

// Stats returns the current counters.
func (s *Store) Stats(ctx context.Context) (model.LearningStats, error) {
	var stats model.LearningStats
	row := s.db.QueryRowContext(ctx, `
		SELECT total_feedbacks, correct_feedbacks, incorrect_feedbacks, last_update
		FROM learning_stats WHERE id = 1`)
	if err := scanStats(row, &stats); err != nil {
		return model.LearningStats{}, err
	}
	return stats, nil
}

func scanStats(row *sql.Row, out *model.LearningStats) error {
	var lastUpdate string
	if err := row.Scan(&out.TotalFeedbacks, &out.CorrectFeedbacks, &out.IncorrectFeedbacks, &lastUpdate); err != nil {
		return fmt.Errorf("reviewqueue: scan stats: %w", err)
	}
	if lastUpdate != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastUpdate); err == nil {
			out.LastUpdate = t
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reviewqueue: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("reviewqueue: commit: %w", err)
	}
	return nil
}
