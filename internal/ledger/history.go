// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/persistence/sqlite"
)

var historyMigrations = []string{
	`CREATE TABLE transactions (
		order_id      TEXT PRIMARY KEY,
		amount        INTEGER NOT NULL,
		feature_key   TEXT NOT NULL,
		signature     TEXT NOT NULL DEFAULT '',
		file_name     TEXT NOT NULL DEFAULT '',
		task_id       TEXT NOT NULL DEFAULT '',
		balance_after INTEGER NOT NULL DEFAULT 0,
		created_at    INTEGER NOT NULL
	);
	CREATE INDEX idx_transactions_created ON transactions(created_at DESC);
	CREATE INDEX idx_transactions_task ON transactions(task_id);`,
}

// History is the local transaction log. order_id is the primary key, so a
// debit can be recorded at most once.
type History struct {
	db *sql.DB
}

// OpenHistory opens (and migrates) the log at path.
func OpenHistory(ctx context.Context, path string) (*History, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, historyMigrations); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &History{db: db}, nil
}

func (h *History) Close() error { return h.db.Close() }

// Insert records tx. It reports false when the order id already exists.
func (h *History) Insert(ctx context.Context, tx domain.Transaction) (bool, error) {
	res, err := h.db.ExecContext(ctx, `
		INSERT INTO transactions (order_id, amount, feature_key, signature, file_name, task_id, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING`,
		tx.OrderID, tx.Amount, string(tx.FeatureKey), tx.Signature, tx.FileName, tx.TaskID, tx.BalanceAfter, tx.CreatedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Get returns the transaction for orderID.
func (h *History) Get(ctx context.Context, orderID string) (domain.Transaction, bool, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT order_id, amount, feature_key, signature, file_name, task_id, balance_after, created_at
		FROM transactions WHERE order_id = ?`, orderID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transaction{}, false, nil
	}
	if err != nil {
		return domain.Transaction{}, false, err
	}
	return tx, true, nil
}

// List returns up to limit transactions, newest first. limit <= 0 means all.
func (h *History) List(ctx context.Context, limit int) ([]domain.Transaction, error) {
	q := `SELECT order_id, amount, feature_key, signature, file_name, task_id, balance_after, created_at
		FROM transactions ORDER BY created_at DESC, order_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// CountByTask returns how many debits reference taskID.
func (h *History) CountByTask(ctx context.Context, taskID string) (int, error) {
	var n int
	err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE task_id = ?`, taskID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (domain.Transaction, error) {
	var (
		tx      domain.Transaction
		feature string
		created int64
	)
	if err := s.Scan(&tx.OrderID, &tx.Amount, &feature, &tx.Signature, &tx.FileName, &tx.TaskID, &tx.BalanceAfter, &created); err != nil {
		return tx, err
	}
	tx.FeatureKey = domain.FeatureKey(feature)
	tx.CreatedAt = time.UnixMilli(created).UTC()
	return tx, nil
}
