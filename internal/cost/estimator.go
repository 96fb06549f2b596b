// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cost converts media duration and subtitle size into credits.
package cost

import (
	"math"

	"github.com/ManuGH/subforge/internal/domain"
)

// DefaultCharsPerSecond approximates transcript density when a translation
// follows recognition and the character count is not known yet.
const DefaultCharsPerSecond = 15.0

// Estimator prices tasks from a coefficient table.
type Estimator struct {
	coef           domain.Coefficients
	charsPerSecond float64
}

// New returns an Estimator. charsPerSecond <= 0 selects the default.
func New(coef domain.Coefficients, charsPerSecond float64) Estimator {
	if charsPerSecond <= 0 {
		charsPerSecond = DefaultCharsPerSecond
	}
	return Estimator{coef: coef, charsPerSecond: charsPerSecond}
}

// EstimateASR prices cloud recognition of seconds of audio.
func (e Estimator) EstimateASR(seconds float64) int64 {
	return credits(seconds * e.coef.ASRPerSecond)
}

// EstimateLocalASR prices on-device recognition.
func (e Estimator) EstimateLocalASR(seconds float64) int64 {
	return credits(seconds * e.coef.LocalASRPerSecond)
}

// EstimateTrans prices translation of chars source characters.
func (e Estimator) EstimateTrans(chars int) int64 {
	return credits(float64(chars) * e.coef.TransPerChar)
}

// Estimate prices a task before it runs. For kinds that translate a transcript
// not produced yet, the character count is projected from the duration.
func (e Estimator) Estimate(kind domain.Kind, seconds float64, chars int) int64 {
	projected := int(math.Round(seconds * e.charsPerSecond))
	switch kind {
	case domain.KindASR:
		return e.EstimateLocalASR(seconds)
	case domain.KindCloudASR:
		return e.EstimateASR(seconds)
	case domain.KindTrans:
		return e.EstimateTrans(chars)
	case domain.KindASRTrans:
		return e.EstimateLocalASR(seconds) + e.EstimateTrans(projected)
	case domain.KindCloudASRTrans:
		return e.EstimateASR(seconds) + e.EstimateTrans(projected)
	default:
		return 0
	}
}

// Settle prices a finished task from the measured duration and the actual
// source character count.
func (e Estimator) Settle(kind domain.Kind, seconds float64, chars int) int64 {
	switch kind {
	case domain.KindASRTrans:
		return e.EstimateLocalASR(seconds) + e.EstimateTrans(chars)
	case domain.KindCloudASRTrans:
		return e.EstimateASR(seconds) + e.EstimateTrans(chars)
	default:
		return e.Estimate(kind, seconds, chars)
	}
}

func credits(v float64) int64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return int64(math.Round(v))
}
