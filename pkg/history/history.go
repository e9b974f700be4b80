package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Fill is one confirmed execution appended to the journal.
type Fill struct {
	ID        int64
	Address   string
	Symbol    string
	Side      string // "buy" | "sell"
	Size      float64
	Price     float64
	Realized  float64
	OID       int64
	Source    string // "order" | "stream"
	CreatedAt time.Time
}

// Journal is a local sqlite fill journal. It is append-only from the
// trading path; reads serve the status API and offline analysis.
type Journal struct {
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS fills (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  address TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  size REAL NOT NULL,
  price REAL NOT NULL,
  realized REAL NOT NULL DEFAULT 0,
  oid INTEGER NOT NULL DEFAULT 0,
  source TEXT NOT NULL,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_address_created ON fills(address, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append records one fill. CreatedAt defaults to now.
func (j *Journal) Append(ctx context.Context, f Fill) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO fills (address, symbol, side, size, price, realized, oid, source, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, f.Address, f.Symbol, f.Side, f.Size, f.Price, f.Realized, f.OID, f.Source, f.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// Recent returns up to limit fills for an address, newest first.
func (j *Journal) Recent(ctx context.Context, address string, limit int) ([]Fill, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, address, symbol, side, size, price, realized, oid, source, created_at
FROM fills WHERE address = ? ORDER BY id DESC LIMIT ?
`, address, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Fill
	for rows.Next() {
		var f Fill
		var created string
		if err := rows.Scan(&f.ID, &f.Address, &f.Symbol, &f.Side, &f.Size, &f.Price, &f.Realized, &f.OID, &f.Source, &created); err != nil {
			return nil, err
		}
		f.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, f)
	}
	return out, rows.Err()
}

// RealizedTotal sums realized P&L across the journal for an address.
func (j *Journal) RealizedTotal(ctx context.Context, address string) (float64, error) {
	var total sql.NullFloat64
	err := j.db.QueryRowContext(ctx, `SELECT SUM(realized) FROM fills WHERE address = ?`, address).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total.Float64, nil
}
