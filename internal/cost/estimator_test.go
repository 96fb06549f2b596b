// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuGH/subforge/internal/domain"
)

func TestEstimateReferenceValues(t *testing.T) {
	e := New(domain.Coefficients{ASRPerSecond: 2, TransPerChar: 0.1}, 0)

	assert.Equal(t, int64(180), e.EstimateASR(90.0))
	assert.Equal(t, int64(125), e.EstimateTrans(1250))
}

func TestEstimateByKind(t *testing.T) {
	e := New(domain.Coefficients{ASRPerSecond: 2, LocalASRPerSecond: 0.5, TransPerChar: 0.1}, 10)

	tests := []struct {
		kind    domain.Kind
		seconds float64
		chars   int
		want    int64
	}{
		{domain.KindASR, 60, 0, 30},
		{domain.KindCloudASR, 60, 0, 120},
		{domain.KindTrans, 0, 1000, 100},
		{domain.KindASRTrans, 60, 0, 30 + 60},
		{domain.KindCloudASRTrans, 60, 0, 120 + 60},
		{domain.Kind("bogus"), 60, 60, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, e.Estimate(tt.kind, tt.seconds, tt.chars))
		})
	}
}

func TestSettleUsesActualChars(t *testing.T) {
	e := New(domain.Coefficients{ASRPerSecond: 2, TransPerChar: 0.1}, 10)

	assert.Equal(t, int64(120+35), e.Settle(domain.KindCloudASRTrans, 60, 350))
	assert.Equal(t, int64(35), e.Settle(domain.KindTrans, 0, 350))
}

func TestEstimateNeverNegative(t *testing.T) {
	e := New(domain.Coefficients{ASRPerSecond: -1}, 0)
	assert.Equal(t, int64(0), e.EstimateASR(10))
	assert.Equal(t, int64(0), New(domain.Coefficients{}, 0).EstimateTrans(1000))
}
