// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ledger

import (
	"context"
	"net/http"
	"time"

	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
)

type rechargeBody struct {
	Amount    int64  `json:"amount"`
	Balance   int64  `json:"balance"`
	Timestamp int64  `json:"timestamp"`
	Sign      string `json:"sign"`
}

// CreateRechargeOrder opens a top-up of amountYuan buying credits.
func (c *Client) CreateRechargeOrder(ctx context.Context, amountYuan, credits int64) (domain.RechargeOrder, error) {
	const op = "ledger.create_order"
	if amountYuan <= 0 || credits <= 0 {
		return domain.RechargeOrder{}, fault.New(fault.KindInvalidInput, op, "amount and credits must be positive")
	}
	if _, err := c.EnsureValidToken(ctx); err != nil {
		return domain.RechargeOrder{}, err
	}
	sess, _ := c.Session()
	ts := c.now().Unix()
	body := rechargeBody{
		Amount:    amountYuan,
		Balance:   credits,
		Timestamp: ts,
		Sign:      Sign(c.cfg.Secret, sess.UserID, amountYuan, string(domain.FeatureRecharge), ts),
	}
	var order domain.RechargeOrder
	if err := c.call(ctx, "create_order", http.MethodPost, c.endpoint("transactions", "recharge", "create-order"), body, &order); err != nil {
		return domain.RechargeOrder{}, err
	}
	if order.OrderID == "" {
		return domain.RechargeOrder{}, fault.New(fault.KindInternal, op, "response carries no order id")
	}
	if order.State == "" {
		order.State = domain.OrderPending
	}
	c.logger.Info().Str(log.FieldEvent, "ledger.recharge_created").Str(log.FieldOrderID, order.OrderID).Msg("recharge order created")
	return order, nil
}

// PollOrder returns the current state of a recharge order.
func (c *Client) PollOrder(ctx context.Context, orderID string) (domain.RechargeOrder, error) {
	if orderID == "" {
		return domain.RechargeOrder{}, fault.New(fault.KindInvalidInput, "ledger.order_status", "order id is required")
	}
	var order domain.RechargeOrder
	err := c.call(ctx, "order_status", http.MethodGet, c.endpoint("transactions", "recharge", "order-status", orderID), nil, &order)
	if err != nil {
		return domain.RechargeOrder{}, err
	}
	if order.OrderID == "" {
		order.OrderID = orderID
	}
	return order, nil
}

// WaitOrder polls until the order is final or ctx ends.
func (c *Client) WaitOrder(ctx context.Context, orderID string, interval time.Duration) (domain.RechargeOrder, error) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	for {
		order, err := c.PollOrder(ctx, orderID)
		if err != nil && !fault.Retriable(err) {
			return order, err
		}
		if err == nil && order.State.Final() {
			return order, nil
		}
		if err := c.sleep(ctx, interval); err != nil {
			return order, fault.Wrap(fault.KindCancelled, "ledger.wait_order", err)
		}
	}
}
