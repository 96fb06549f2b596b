// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	TaskIDKey   = "task.id"
	TaskKindKey = "task.kind"
	StageKey    = "task.stage"

	ChunkIndexKey   = "translate.chunk"
	ChunkEntriesKey = "translate.entries"
	PassKey         = "translate.pass"

	ProviderKey = "llm.provider"
	ModelKey    = "llm.model"

	LedgerEndpointKey = "ledger.endpoint"
	FeatureKeyKey     = "ledger.feature_key"
	OrderIDKey        = "ledger.order_id"

	ErrorKindKey = "error.kind"
)

// TaskAttributes describes the task a span belongs to.
func TaskAttributes(id, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TaskIDKey, id),
		attribute.String(TaskKindKey, kind),
	}
}

// ChunkAttributes describes one translation call.
func ChunkAttributes(index, entries int, pass string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(ChunkIndexKey, index),
		attribute.Int(ChunkEntriesKey, entries),
		attribute.String(PassKey, pass),
	}
}

// LLMAttributes names the provider and model, skipping empty values.
func LLMAttributes(provider, model string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if provider != "" {
		attrs = append(attrs, attribute.String(ProviderKey, provider))
	}
	if model != "" {
		attrs = append(attrs, attribute.String(ModelKey, model))
	}
	return attrs
}

// LedgerAttributes describes a ledger call.
func LedgerAttributes(endpoint, featureKey, orderID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(LedgerEndpointKey, endpoint)}
	if featureKey != "" {
		attrs = append(attrs, attribute.String(FeatureKeyKey, featureKey))
	}
	if orderID != "" {
		attrs = append(attrs, attribute.String(OrderIDKey, orderID))
	}
	return attrs
}
