// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestBusDropLabelsDefault(t *testing.T) {
	before := testutil.ToFloat64(BusDroppedTotal.WithLabelValues("unknown", "full"))
	IncBusDropReason("", "full")
	assert.Equal(t, before+1, testutil.ToFloat64(BusDroppedTotal.WithLabelValues("unknown", "full")))
}

func TestBreakerStateLevels(t *testing.T) {
	SetBreakerState("llm.test", "open")
	assert.Equal(t, 2.0, testutil.ToFloat64(breakerState.WithLabelValues("llm.test")))
	SetBreakerState("llm.test", "bogus")
	assert.Equal(t, 2.0, testutil.ToFloat64(breakerState.WithLabelValues("llm.test")))
	SetBreakerState("llm.test", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("llm.test")))

	IncBreakerOpen("llm.test", "threshold")
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerOpens.WithLabelValues("llm.test", "threshold")))
}

func TestCloudInflightGauge(t *testing.T) {
	AddCloudInflight("openai", 1)
	AddCloudInflight("openai", 1)
	AddCloudInflight("openai", -2)
	assert.Equal(t, 0.0, testutil.ToFloat64(cloudInflight.WithLabelValues("openai")))
}
