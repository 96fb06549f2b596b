// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	ts := time.Unix(1700000000, 123)
	a := Fingerprint("/media/a.mp4", "large-v3", ts)
	b := Fingerprint("/media/a.mp4", "large-v3", ts)
	c := Fingerprint("/media/b.mp4", "large-v3", ts)

	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, Fingerprint("/media/a.mp4", "large-v3", ts.Add(time.Nanosecond)))
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusRunning, false},
		{StatusQueued, StatusRunning, true},
		{StatusRunning, StatusSucceeded, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusSucceeded, StatusFailed, false},
		{StatusFailed, StatusQueued, false},
		{StatusCancelled, StatusRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestKindProperties(t *testing.T) {
	assert.False(t, KindTrans.NeedsMedia())
	assert.True(t, KindCloudASRTrans.Cloud())
	assert.True(t, KindASRTrans.Translates())
	assert.False(t, KindASR.Translates())
	assert.Equal(t, FeatureCloudASRTrans, KindCloudASRTrans.FeatureKey())
	assert.False(t, Kind("OCR").Valid())
	for _, k := range Kinds {
		assert.True(t, k.Valid())
		assert.NotEmpty(t, k.FeatureKey())
	}
}
