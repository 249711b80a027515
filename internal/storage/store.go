package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"billkeep/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the durable local persistence unit for bills, categories and the
// cached user. It works with or without network availability; the sync layer
// drains rows with synced=0.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at dbPath and runs
// migrations. Initialization is idempotent across app starts.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveBill upserts a bill by id, writing all fields including the synced
// flag. Locally originated writes carry Synced=false so the sync layer picks
// them up.
func (s *Store) SaveBill(ctx context.Context, b core.Bill) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("validate bill: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO bills
			(id, user_id, time, channel, merchant, type, amount_cents,
			 category, description, created_at, updated_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UserID, b.Time.UTC().UnixMilli(), b.Channel, b.Merchant,
		string(b.Type), b.Amount.Cents, b.Category, b.Description,
		b.CreatedAt.UTC().UnixMilli(), b.UpdatedAt.UTC().UnixMilli(),
		boolToInt(b.Synced))
	if err != nil {
		return fmt.Errorf("save bill: %w", err)
	}

	slog.DebugContext(ctx, "Bill saved",
		"bill_id", b.ID,
		"amount_cents", b.Amount.Cents,
		"synced", b.Synced)

	return nil
}

const billColumns = `id, user_id, time, channel, merchant, type, amount_cents,
	category, description, created_at, updated_at, synced`

// GetBills returns bills ordered by business time descending, newest first.
// Equal times fall back to id descending so pagination stays stable.
func (s *Store) GetBills(ctx context.Context, limit, offset int) ([]core.Bill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+billColumns+`
		FROM bills
		ORDER BY time DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query bills: %w", err)
	}
	defer rows.Close()

	return scanBills(rows)
}

// GetBillsInRange returns bills whose business time falls inside [from, to],
// bounds inclusive, ordered like GetBills.
func (s *Store) GetBillsInRange(ctx context.Context, from, to time.Time) ([]core.Bill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+billColumns+`
		FROM bills
		WHERE time >= ? AND time <= ?
		ORDER BY time DESC, id DESC`, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query bills in range: %w", err)
	}
	defer rows.Close()

	return scanBills(rows)
}

// GetBill returns a single bill by id, or ErrNotFound.
func (s *Store) GetBill(ctx context.Context, id string) (core.Bill, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+billColumns+`
		FROM bills WHERE id = ?`, id)

	b, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Bill{}, ErrNotFound
	}
	if err != nil {
		return core.Bill{}, fmt.Errorf("get bill %s: %w", id, err)
	}
	return b, nil
}

// GetUnsyncedBills returns every bill whose local copy has no confirmed
// server counterpart.
func (s *Store) GetUnsyncedBills(ctx context.Context) ([]core.Bill, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+billColumns+`
		FROM bills WHERE synced = 0`)
	if err != nil {
		return nil, fmt.Errorf("query unsynced bills: %w", err)
	}
	defer rows.Close()

	return scanBills(rows)
}

// PendingCount returns the number of bills awaiting sync.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bills WHERE synced = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending bills: %w", err)
	}
	return n, nil
}

// MarkBillsSynced flips synced to 1 for the given ids in a single
// transaction. Absent ids are no-ops; the call is all-or-nothing.
func (s *Store) MarkBillsSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bills SET synced = 1 WHERE id IN (`+placeholders+`)`,
		args...); err != nil {
		return fmt.Errorf("mark bills synced: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark synced: %w", err)
	}

	slog.DebugContext(ctx, "Bills marked as synced", "count", len(ids))
	return nil
}

// DeleteBill removes the row. Deleting an absent id is not an error.
func (s *Store) DeleteBill(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM bills WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete bill %s: %w", id, err)
	}
	return nil
}

// GetCategories returns the full category set.
func (s *Store) GetCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, icon, color FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon, &c.Color); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// SaveUser upserts the locally cached user record.
func (s *Store) SaveUser(ctx context.Context, u core.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO users (id, email, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name,
		u.CreatedAt.UTC().UnixMilli(), u.UpdatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// GetUser returns the cached user by id, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at, updated_at FROM users WHERE id = ?`,
		id).Scan(&u.ID, &u.Email, &u.Name, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	u.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return u, nil
}

// ClearAllData wipes bills and users in one transaction. Categories are the
// seeded picker set and survive logout.
func (s *Store) ClearAllData(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bills`); err != nil {
		return fmt.Errorf("clear bills: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("clear users: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}

	slog.InfoContext(ctx, "Local data cleared", "component", "storage")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (core.Bill, error) {
	var b core.Bill
	var typ string
	var billTime, createdAt, updatedAt int64
	var synced int
	err := row.Scan(&b.ID, &b.UserID, &billTime, &b.Channel, &b.Merchant,
		&typ, &b.Amount.Cents, &b.Category, &b.Description,
		&createdAt, &updatedAt, &synced)
	if err != nil {
		return core.Bill{}, err
	}
	b.Type = core.BillType(typ)
	b.Time = time.UnixMilli(billTime).UTC()
	b.CreatedAt = time.UnixMilli(createdAt).UTC()
	b.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	b.Synced = synced != 0
	return b, nil
}

func scanBills(rows *sql.Rows) ([]core.Bill, error) {
	var bills []core.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
