package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cestinha/internal/core"

	_ "modernc.org/sqlite"
)

// ErrUnknownField is returned when a field-update names a column that
// is not part of the narrow-update whitelist.
var ErrUnknownField = errors.New("unknown purchase field")

// occurredAtLayout keeps the fraction fixed-width, unlike RFC3339Nano
// which strips trailing zeros. occurred_at is a TEXT column ordered
// lexicographically, so every stored value must have the same width.
const occurredAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository stores finalized purchases in the relational table
// behind the history service.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InsertPurchase stores a purchase snapshot and returns its row id.
//
// The insert is idempotent on the client-generated purchase id: a
// republished purchase (e.g. after a timed-out but successful attempt)
// resolves to the existing row instead of duplicating it.
func (r *SQLiteRepository) InsertPurchase(ctx context.Context, p core.Purchase) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, fmt.Errorf("validate purchase: %w", err)
	}

	itemsJSON, err := json.Marshal(p.Items)
	if err != nil {
		return 0, fmt.Errorf("encode items: %w", err)
	}

	clientID := sql.NullString{String: p.ID, Valid: p.ID != ""}
	budget := sql.NullInt64{}
	if p.BudgetGoal != nil {
		budget = sql.NullInt64{Int64: p.BudgetGoal.Cents, Valid: true}
	}
	payment := sql.NullString{String: string(p.PaymentMethod), Valid: p.PaymentMethod != ""}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO purchases (client_id, occurred_at, total_cents, item_count, items, budget_goal_cents, payment_method)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO NOTHING`,
		clientID,
		p.Date.UTC().Format(occurredAtLayout),
		p.Total.Cents,
		p.ItemCount,
		string(itemsJSON),
		budget,
		payment,
	)
	if err != nil {
		return 0, fmt.Errorf("insert purchase: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert purchase rows affected: %w", err)
	}
	if affected == 0 {
		// Already stored by an earlier publish of the same purchase.
		var id int64
		err := r.db.QueryRowContext(ctx,
			`SELECT id FROM purchases WHERE client_id = ?`, p.ID).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("resolve existing purchase: %w", err)
		}
		slog.InfoContext(ctx, "Purchase already stored, skipping duplicate",
			"client_id", p.ID, "id", id)
		return id, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert purchase id: %w", err)
	}

	slog.InfoContext(ctx, "Purchase saved to SQLite",
		"id", id,
		"client_id", p.ID,
		"total_cents", p.Total.Cents,
		"item_count", p.ItemCount)

	return id, nil
}

// ListRecent returns up to limit purchases ordered by date descending.
func (r *SQLiteRepository) ListRecent(ctx context.Context, limit int) ([]core.Purchase, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, client_id, occurred_at, total_cents, item_count, items, budget_goal_cents, payment_method
		FROM purchases
		ORDER BY occurred_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	purchases := []core.Purchase{}
	for rows.Next() {
		var (
			id         int64
			clientID   sql.NullString
			occurredAt string
			totalCents int64
			itemCount  int
			itemsJSON  string
			budget     sql.NullInt64
			payment    sql.NullString
		)
		if err := rows.Scan(&id, &clientID, &occurredAt, &totalCents, &itemCount, &itemsJSON, &budget, &payment); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}

		date, err := time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse purchase date %q: %w", occurredAt, err)
		}

		var items []core.LineItem
		if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
			return nil, fmt.Errorf("decode items for purchase %d: %w", id, err)
		}

		p := core.Purchase{
			ID:        clientID.String,
			RemoteID:  id,
			Date:      date,
			Total:     core.Money{Cents: totalCents},
			ItemCount: itemCount,
			Items:     items,
		}
		if budget.Valid {
			p.BudgetGoal = &core.Money{Cents: budget.Int64}
		}
		if payment.Valid {
			p.PaymentMethod = core.PaymentMethod(payment.String)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}

	return purchases, nil
}

// UpdatePurchaseField applies a narrow in-place edit to one whitelisted
// column without rewriting the record. The value must already be typed
// for the column: cents for budget_goal, a method id for
// payment_method; nil clears either.
func (r *SQLiteRepository) UpdatePurchaseField(ctx context.Context, id int64, field string, value any) error {
	var query string
	switch field {
	case "payment_method":
		query = `UPDATE purchases SET payment_method = ? WHERE id = ?`
	case "budget_goal":
		query = `UPDATE purchases SET budget_goal_cents = ? WHERE id = ?`
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	if _, err := r.db.ExecContext(ctx, query, value, id); err != nil {
		return fmt.Errorf("update purchase field %s: %w", field, err)
	}

	slog.InfoContext(ctx, "Purchase field updated", "id", id, "field", field)
	return nil
}

// CountPurchases returns the number of stored purchases.
func (r *SQLiteRepository) CountPurchases(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM purchases`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count purchases: %w", err)
	}
	return n, nil
}
