// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tasks

import (
	"github.com/ManuGH/subforge/internal/bus"
	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/ledger"
	"github.com/ManuGH/subforge/internal/log"
	"github.com/ManuGH/subforge/internal/metrics"
)

func (m *Manager) consumeRequest(id string) (ledger.ConsumeRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok || e.task.Status != domain.StatusSucceeded || e.task.ActualCost == nil || e.task.OrderID == "" {
		return ledger.ConsumeRequest{}, false
	}
	t := e.task
	return ledger.ConsumeRequest{
		OrderID:    t.OrderID,
		Amount:     *t.ActualCost,
		FeatureKey: t.Kind.FeatureKey(),
		FileName:   t.RawStem + t.RawExt,
		TaskID:     t.ID,
	}, true
}

// settle makes the first debit attempt for a succeeded task. On failure
// the task keeps its status and the debit moves to the background.
func (m *Manager) settle(id string) {
	req, ok := m.consumeRequest(id)
	if !ok {
		return
	}
	tx, err := m.ledger.Consume(m.bgCtx, req)
	if err == nil {
		m.settled(id, tx)
		return
	}

	m.mu.Lock()
	if e, ok := m.tasks[id]; ok {
		e.task.Billing = domain.BillingDeferred
		e.task.UpdatedAt = m.now()
		m.persistLocked()
		m.publishLocked(bus.Event{
			Topic:   bus.TopicBillingDeferred,
			TaskID:  id,
			OrderID: req.OrderID,
			Error:   err.Error(),
			Code:    string(fault.KindBillingDeferred),
		})
	}
	m.mu.Unlock()
	metrics.RecordBilling("deferred")
	m.logger.Warn().Err(err).Str(log.FieldTaskID, id).Str(log.FieldOrderID, req.OrderID).Msg("debit deferred")

	m.bg.Add(1)
	go m.retryBilling(id)
}

// retryBilling retries a deferred debit with exponential backoff. The
// order id is reused so the ledger settles it at most once.
func (m *Manager) retryBilling(id string) {
	defer m.bg.Done()
	var lastErr error
	for attempt := 1; attempt <= m.cfg.BillingAttempts; attempt++ {
		if err := m.sleep(m.bgCtx, m.cfg.BillingBase<<(attempt-1)); err != nil {
			return
		}
		req, ok := m.consumeRequest(id)
		if !ok {
			return
		}
		tx, err := m.ledger.Consume(m.bgCtx, req)
		if err == nil {
			m.settled(id, tx)
			return
		}
		if m.bgCtx.Err() != nil {
			return
		}
		lastErr = err
		m.logger.Warn().Err(err).
			Str(log.FieldTaskID, id).
			Str(log.FieldOrderID, req.OrderID).
			Int(log.FieldAttempt, attempt).
			Msg("deferred debit retry failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.tasks[id]
	if !ok {
		return
	}
	e.task.Billing = domain.BillingFailed
	e.task.UpdatedAt = m.now()
	m.persistLocked()
	ev := bus.Event{Topic: bus.TopicBillingFailed, TaskID: id, OrderID: e.task.OrderID, Code: string(fault.KindBillingDeferred)}
	if lastErr != nil {
		ev.Error = lastErr.Error()
	}
	m.publishLocked(ev)
	metrics.RecordBilling("failed")
	m.logger.Error().Err(lastErr).Str(log.FieldTaskID, id).Msg("debit failed permanently")
}

func (m *Manager) settled(id string, tx domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.tasks[id]; ok {
		e.task.Billing = domain.BillingSettled
		e.task.UpdatedAt = m.now()
		m.persistLocked()
	}
	m.publishLocked(bus.Event{Topic: bus.TopicBalanceUpdated, TaskID: id, OrderID: tx.OrderID, Balance: tx.BalanceAfter})
	m.publishLocked(bus.Event{Topic: bus.TopicHistoryUpdated, TaskID: id, OrderID: tx.OrderID})
	metrics.RecordBilling("settled")
}
