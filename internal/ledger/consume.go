// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ledger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
)

const (
	consumeAttempts = 3
	consumeBackoff  = 500 * time.Millisecond
)

// ConsumeRequest debits Amount credits. OrderID is the idempotency key.
type ConsumeRequest struct {
	OrderID    string
	Amount     int64
	FeatureKey domain.FeatureKey
	FileName   string
	TaskID     string
}

type consumeBody struct {
	FeatureKey domain.FeatureKey `json:"feature_key"`
	TokenCost  int64             `json:"token_cost"`
	FileName   string            `json:"file_name"`
	OrderID    string            `json:"order_id"`
	UserID     string            `json:"user_id,omitempty"`
	TaskID     string            `json:"task_id,omitempty"`
}

type consumeReply struct {
	OrderID      string `json:"order_id"`
	BalanceAfter int64  `json:"balance_after"`
	Amount       int64  `json:"amount"`
}

// Consume signs and posts a debit, then records it in the local log. An
// order id already present in the log is returned without a remote call.
// A 409 from the server means the order was settled by an earlier attempt.
func (c *Client) Consume(ctx context.Context, req ConsumeRequest) (domain.Transaction, error) {
	const op = "ledger.consume"
	if strings.TrimSpace(req.OrderID) == "" {
		return domain.Transaction{}, fault.New(fault.KindInvalidInput, op, "order id is required")
	}
	if req.Amount <= 0 {
		return domain.Transaction{}, fault.New(fault.KindInvalidInput, op, "amount must be positive")
	}
	if req.FeatureKey == "" {
		return domain.Transaction{}, fault.New(fault.KindInvalidInput, op, "feature key is required")
	}
	if c.history != nil {
		tx, ok, err := c.history.Get(ctx, req.OrderID)
		if err != nil {
			return domain.Transaction{}, fault.Wrap(fault.KindInternal, op, err)
		}
		if ok {
			return tx, nil
		}
	}

	if _, err := c.EnsureValidToken(ctx); err != nil {
		return domain.Transaction{}, err
	}
	sess, _ := c.Session()
	now := c.now()
	sign := Sign(c.cfg.Secret, sess.UserID, req.Amount, string(req.FeatureKey), now.Unix())
	endpoint := c.endpoint("transactions", "use") + "?" + query(now.Unix(), sign)
	body := consumeBody{
		FeatureKey: req.FeatureKey,
		TokenCost:  req.Amount,
		FileName:   req.FileName,
		OrderID:    req.OrderID,
		UserID:     sess.UserID,
		TaskID:     req.TaskID,
	}

	var (
		reply    consumeReply
		lastErr  error
		conflict bool
	)
	for attempt := 1; attempt <= consumeAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, consumeBackoff<<(attempt-2)); err != nil {
				return domain.Transaction{}, fault.Wrap(fault.KindCancelled, op, err)
			}
		}
		status, raw, err := c.authed(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			lastErr = transportError(ctx, op, err)
		} else if status == http.StatusConflict {
			lastErr, conflict = nil, true
			c.record("use", nil)
			break
		} else {
			lastErr = expect(op, status, raw, &reply)
		}
		c.record("use", lastErr)
		if lastErr == nil || !fault.Retriable(lastErr) {
			break
		}
		c.logger.Warn().Err(lastErr).
			Str(log.FieldOrderID, req.OrderID).
			Int(log.FieldAttempt, attempt).
			Msg("debit attempt failed")
	}
	if lastErr != nil {
		return domain.Transaction{}, lastErr
	}
	if reply.OrderID != "" && reply.OrderID != req.OrderID {
		c.logger.Debug().Str(log.FieldOrderID, req.OrderID).Str("remote_order_id", reply.OrderID).Msg("ledger assigned its own order id")
	}
	if conflict {
		c.logger.Info().Str(log.FieldOrderID, req.OrderID).Msg("order already settled remotely")
		if b, err := c.Balance(ctx); err == nil {
			reply.BalanceAfter = b
		}
	}

	tx := domain.Transaction{
		OrderID:      req.OrderID,
		Amount:       -req.Amount,
		FeatureKey:   req.FeatureKey,
		Signature:    sign,
		FileName:     req.FileName,
		TaskID:       req.TaskID,
		BalanceAfter: reply.BalanceAfter,
		CreatedAt:    now.UTC(),
	}
	if c.history != nil {
		if _, err := c.history.Insert(ctx, tx); err != nil {
			c.logger.Warn().Err(err).Str(log.FieldOrderID, tx.OrderID).Msg("debit settled but not recorded locally")
		}
	}
	c.logger.Info().
		Str(log.FieldEvent, "ledger.consume").
		Str(log.FieldOrderID, tx.OrderID).
		Str(log.FieldTaskID, tx.TaskID).
		Int64("amount", req.Amount).
		Int64("balance", tx.BalanceAfter).
		Msg("credits debited")
	return tx, nil
}

type historyReply struct {
	Transactions []domain.Transaction `json:"transactions"`
}

// History fetches the remote transaction list, merges it into the local
// log, and returns the merged log newest first.
func (c *Client) History(ctx context.Context, limit int) ([]domain.Transaction, error) {
	var reply historyReply
	if err := c.call(ctx, "history", http.MethodGet, c.endpoint("transactions", "history"), nil, &reply); err != nil {
		return nil, err
	}
	if c.history == nil {
		if limit > 0 && len(reply.Transactions) > limit {
			reply.Transactions = reply.Transactions[:limit]
		}
		return reply.Transactions, nil
	}
	added := 0
	for _, tx := range reply.Transactions {
		if tx.OrderID == "" {
			continue
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = c.now().UTC()
		}
		ok, err := c.history.Insert(ctx, tx)
		if err != nil {
			return nil, fault.Wrap(fault.KindInternal, "ledger.history", err)
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		c.logger.Debug().Int("added", added).Msg("merged remote history")
	}
	return c.history.List(ctx, limit)
}
