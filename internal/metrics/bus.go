// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BusPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subforge_bus_published_total",
		Help: "Total number of events published on the in-memory bus",
	}, []string{"topic"})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subforge_bus_dropped_total",
		Help: "Total number of in-memory bus event drops by topic and reason",
	}, []string{"topic", "reason"})
)

// IncBusPublished records a published event.
func IncBusPublished(topic string) {
	BusPublishedTotal.WithLabelValues(labelOr(topic)).Inc()
}

// IncBusDropReason records a dropped bus event with a concrete reason.
func IncBusDropReason(topic, reason string) {
	BusDroppedTotal.WithLabelValues(labelOr(topic), labelOr(reason)).Inc()
}

func labelOr(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
