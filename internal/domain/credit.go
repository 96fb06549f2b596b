// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package domain

import "time"

// FeatureKey names a billable feature on the ledger.
type FeatureKey string

const (
	FeatureLocalASR      FeatureKey = "asr"
	FeatureCloudASR      FeatureKey = "cloud_asr"
	FeatureCloudTrans    FeatureKey = "cloud_trans"
	FeatureASRTrans      FeatureKey = "asr_trans"
	FeatureCloudASRTrans FeatureKey = "cloud_asr_trans"
	FeatureRecharge      FeatureKey = "recharge"
)

// Coefficients are the server-published per-unit prices.
type Coefficients struct {
	ASRPerSecond      float64 `json:"asr_per_second"`
	LocalASRPerSecond float64 `json:"local_asr_per_second,omitempty"`
	TransPerChar      float64 `json:"trans_per_char"`
}

// Transaction is one signed consumption record.
type Transaction struct {
	OrderID      string     `json:"order_id"`
	Amount       int64      `json:"amount"`
	FeatureKey   FeatureKey `json:"feature_key"`
	Signature    string     `json:"signature,omitempty"`
	FileName     string     `json:"file_name,omitempty"`
	TaskID       string     `json:"task_id,omitempty"`
	BalanceAfter int64      `json:"balance_after"`
	CreatedAt    time.Time  `json:"created_at"`
}

// OrderState is the recharge order lifecycle as reported by the ledger.
type OrderState string

const (
	OrderPending   OrderState = "PENDING"
	OrderCompleted OrderState = "COMPLETED"
	OrderFailed    OrderState = "FAILED"
)

// Final reports whether the order will not change anymore.
func (s OrderState) Final() bool { return s == OrderCompleted || s == OrderFailed }

// RechargeOrder is a pending top-up.
type RechargeOrder struct {
	OrderID    string     `json:"order_id"`
	PaymentURL string     `json:"payment_url"`
	AmountYuan int64      `json:"amount"`
	Credits    int64      `json:"balance"`
	State      OrderState `json:"status"`
}
