// Package journal 成交记录本地账本（sqlite，只追加）
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/betbot/gokis/kis/types"
)

// Journal 成交账本
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开或创建账本文件
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("账本路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建账本目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite 单写者
	db.SetMaxOpenConns(1)

	j := &Journal{db: db, now: time.Now}
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
CREATE TABLE IF NOT EXISTS executions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  account TEXT NOT NULL,
  order_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  qty INTEGER NOT NULL,
  price TEXT NOT NULL,
  executed_at INTEGER NOT NULL, -- unix 纳秒
  recorded_at TEXT NOT NULL
);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_executions_dedup ON executions(account, order_id, executed_at, qty, price);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_symbol_ts ON executions(account, symbol, executed_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close 关闭账本
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record 追加成交记录，已存在的记录忽略，返回新增条数
func (j *Journal) Record(ctx context.Context, account string, execs []types.Execution) (int, error) {
	if len(execs) == 0 {
		return 0, nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO executions (account, order_id, symbol, side, qty, price, executed_at, recorded_at)
VALUES (?,?,?,?,?,?,?,?)
`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	recordedAt := j.now().UTC().Format(time.RFC3339Nano)
	inserted := 0
	for _, e := range execs {
		res, err := stmt.ExecContext(ctx, account, e.OrderID, e.Symbol, string(e.Side), e.ExecutedQty,
			e.ExecutedPrice.String(), e.ExecutedAt.UnixNano(), recordedAt)
		if err != nil {
			return 0, fmt.Errorf("insert execution %s: %w", e.OrderID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// Filter 查询条件
type Filter struct {
	Account string
	Symbol  string
	Since   time.Time
	Limit   int // 默认 200，最大 2000
}

// List 按成交时间倒序查询
func (j *Journal) List(ctx context.Context, f Filter) ([]types.Execution, error) {
	if f.Limit <= 0 || f.Limit > 2000 {
		f.Limit = 200
	}
	var (
		where = []string{"account=?"}
		args  = []any{f.Account}
	)
	if f.Symbol != "" {
		where = append(where, "symbol=?")
		args = append(args, strings.ToUpper(f.Symbol))
	}
	if !f.Since.IsZero() {
		where = append(where, "executed_at>=?")
		args = append(args, f.Since.UnixNano())
	}
	args = append(args, f.Limit)

	rows, err := j.db.QueryContext(ctx, `
SELECT order_id, symbol, side, qty, price, executed_at
FROM executions
WHERE `+strings.Join(where, " AND ")+`
ORDER BY executed_at DESC, id DESC
LIMIT ?
`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Execution
	for rows.Next() {
		var (
			e     types.Execution
			side  string
			price string
			ts    int64
		)
		if err := rows.Scan(&e.OrderID, &e.Symbol, &side, &e.ExecutedQty, &price, &ts); err != nil {
			return nil, err
		}
		e.Side = types.Side(side)
		if e.ExecutedPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("账本价格损坏 %s: %w", e.OrderID, err)
		}
		e.ExecutedAt = time.Unix(0, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count 账户下的记录数
func (j *Journal) Count(ctx context.Context, account string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM executions WHERE account=?`, account).Scan(&n)
	return n, err
}
