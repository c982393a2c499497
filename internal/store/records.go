package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// timeLayout sorts lexically in the same order as the times it encodes.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const recordColumns = `id, input, output, record, trace, urgency, tier, issues, provider, created_at`

// Save stores e, assigning an ID and timestamp when they are unset, and
// returns the ID.
func (s *SQLiteStore) Save(ctx context.Context, e *Entry) (string, error) {
	if e == nil {
		return "", errors.New("nil entry")
	}
	if len(e.Record) == 0 {
		return "", errors.New("entry has no record")
	}
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	var trace any
	if len(e.Trace) > 0 {
		trace = string(e.Trace)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Input, e.Output, string(e.Record), trace,
		e.Urgency, e.Tier, e.Issues, e.Provider, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("inserting record: %w", err)
	}
	return e.ID, nil
}

// Get returns the entry with the given ID, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", id, err)
	}
	return e, nil
}

// List returns entries newest first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := max(opts.Offset, 0)

	query := `SELECT ` + recordColumns + ` FROM records`
	var args []any
	if u := strings.ToLower(strings.TrimSpace(opts.Urgency)); u != "" {
		query += ` WHERE urgency = ?`
		args = append(args, u)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats counts entries by urgency and recovery tier.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		ByUrgency: map[string]int64{},
		ByTier:    map[string]int64{},
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN issues > 0 THEN 1 ELSE 0 END), 0) FROM records`,
	).Scan(&st.Total, &st.WithIssues)
	if err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}

	for col, dst := range map[string]map[string]int64{"urgency": st.ByUrgency, "tier": st.ByTier} {
		if err := s.countBy(ctx, col, dst); err != nil {
			return nil, err
		}
	}

	if s.dbPath != ":memory:" {
		if info, err := os.Stat(s.dbPath); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}
	return st, nil
}

// countBy groups records by col, which must be a trusted column name.
func (s *SQLiteStore) countBy(ctx context.Context, col string, dst map[string]int64) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+col+`, COUNT(*) FROM records GROUP BY `+col)
	if err != nil {
		return fmt.Errorf("counting by %s: %w", col, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scanning %s counts: %w", col, err)
		}
		if key == "" {
			key = "none"
		}
		dst[key] += n
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var (
		e       Entry
		record  string
		trace   sql.NullString
		created string
	)
	if err := r.Scan(&e.ID, &e.Input, &e.Output, &record, &trace, &e.Urgency, &e.Tier, &e.Issues, &e.Provider, &created); err != nil {
		return nil, err
	}
	e.Record = []byte(record)
	if trace.Valid {
		e.Trace = []byte(trace.String)
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", created, err)
	}
	e.CreatedAt = t
	return &e, nil
}
