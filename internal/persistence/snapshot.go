package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"RainLens/internal/aggregate"
	"RainLens/internal/identity"
	"RainLens/internal/query"
)

// ErrSnapshotNotFound is returned when no stored snapshot matches.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// entriesPerInsert keeps each multi-row INSERT well under Postgres' 65535
// bind-parameter limit (3 parameters per row).
const entriesPerInsert = 1000

// SnapshotStore persists aggregate snapshots to analytics.snapshots and
// analytics.snapshot_entries.
type SnapshotStore struct {
	db      *sql.DB
	program identity.Pubkey
}

func NewSnapshotStore(db *sql.DB, program identity.Pubkey) *SnapshotStore {
	return &SnapshotStore{db: db, program: program}
}

// Ping checks the database connection.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Save writes snap and its entries in one transaction. Saving the same
// snapshot ID twice is a no-op.
func (s *SnapshotStore) Save(ctx context.Context, snap *query.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO analytics.snapshots
			(snapshot_id, view, currency, program, as_of, entry_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (snapshot_id) DO NOTHING
	`, snap.ID, string(snap.View), snap.Currency.String(), s.program.String(), snap.AsOf, len(snap.Entries))
	if err != nil {
		return fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	for start := 0; start < len(snap.Entries); start += entriesPerInsert {
		end := min(start+entriesPerInsert, len(snap.Entries))
		if err := insertEntries(ctx, tx, snap.ID, snap.Entries[start:end]); err != nil {
			return fmt.Errorf("insert entries of %s: %w", snap.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func insertEntries(ctx context.Context, tx *sql.Tx, id uuid.UUID, entries []aggregate.Entry) error {
	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*3)

	for i, e := range entries {
		base := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, $%d)", base+1, base+2, base+3))
		args = append(args, id, e.User.String(), strconv.FormatUint(e.Amount, 10))
	}

	q := `INSERT INTO analytics.snapshot_entries (snapshot_id, user_key, amount) VALUES ` +
		strings.Join(values, ", ")
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// Latest loads the most recent snapshot for (view, currency).
func (s *SnapshotStore) Latest(ctx context.Context, view query.View, currency identity.Pubkey) (*query.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id, as_of FROM analytics.snapshots
		WHERE view = $1 AND currency = $2
		ORDER BY as_of DESC, created_at DESC
		LIMIT 1
	`, string(view), currency.String())

	snap := &query.Snapshot{View: view, Currency: currency}
	if err := row.Scan(&snap.ID, &snap.AsOf); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}
	snap.AsOf = snap.AsOf.UTC()

	entries, err := s.loadEntries(ctx, snap.ID)
	if err != nil {
		return nil, err
	}
	snap.Entries = entries
	return snap, nil
}

// SnapshotInfo is a snapshot header without its entries.
type SnapshotInfo struct {
	ID         uuid.UUID
	View       query.View
	Currency   identity.Pubkey
	AsOf       time.Time
	EntryCount int
}

// History lists snapshot headers for (view, currency), newest first.
func (s *SnapshotStore) History(ctx context.Context, view query.View, currency identity.Pubkey, limit int) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot_id, as_of, entry_count FROM analytics.snapshots
		WHERE view = $1 AND currency = $2
		ORDER BY as_of DESC, created_at DESC
		LIMIT $3
	`, string(view), currency.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		info := SnapshotInfo{View: view, Currency: currency}
		if err := rows.Scan(&info.ID, &info.AsOf, &info.EntryCount); err != nil {
			return nil, err
		}
		info.AsOf = info.AsOf.UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SnapshotStore) loadEntries(ctx context.Context, id uuid.UUID) ([]aggregate.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_key, amount::TEXT FROM analytics.snapshot_entries
		WHERE snapshot_id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query entries of %s: %w", id, err)
	}
	defer rows.Close()

	totals := make(aggregate.Totals)
	for rows.Next() {
		var user, amount string
		if err := rows.Scan(&user, &amount); err != nil {
			return nil, err
		}
		pk, err := identity.Parse(user)
		if err != nil {
			return nil, fmt.Errorf("entry user %q: %w", user, err)
		}
		v, err := strconv.ParseUint(amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("entry amount %q: %w", amount, err)
		}
		totals[pk] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals.Sorted(), nil
}
