// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package domain holds the records shared between the task manager, the
// pipeline stages and the ledger client.
package domain

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"time"
)

// Kind selects the pipeline a task runs through.
type Kind string

const (
	KindASR           Kind = "ASR"
	KindCloudASR      Kind = "CLOUD_ASR"
	KindTrans         Kind = "TRANS"
	KindASRTrans      Kind = "ASR_TRANS"
	KindCloudASRTrans Kind = "CLOUD_ASR_TRANS"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindASR, KindCloudASR, KindTrans, KindASRTrans, KindCloudASRTrans}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// NeedsMedia reports whether the source is an audio/video file.
func (k Kind) NeedsMedia() bool { return k != KindTrans }

// Cloud reports whether recognition happens in the cloud.
func (k Kind) Cloud() bool { return k == KindCloudASR || k == KindCloudASRTrans }

// Translates reports whether the pipeline ends with a translation pass.
func (k Kind) Translates() bool {
	return k == KindTrans || k == KindASRTrans || k == KindCloudASRTrans
}

// FeatureKey is the ledger key charged for this kind.
func (k Kind) FeatureKey() FeatureKey {
	switch k {
	case KindASR:
		return FeatureLocalASR
	case KindCloudASR:
		return FeatureCloudASR
	case KindTrans:
		return FeatureCloudTrans
	case KindASRTrans:
		return FeatureASRTrans
	case KindCloudASRTrans:
		return FeatureCloudASRTrans
	default:
		return ""
	}
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusPending: {StatusQueued, StatusCancelled},
	StatusQueued:  {StatusRunning, StatusCancelled, StatusPending},
	StatusRunning: {StatusSucceeded, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// BillingState tracks settlement of a succeeded task.
type BillingState string

const (
	BillingNone     BillingState = ""
	BillingSettled  BillingState = "settled"
	BillingDeferred BillingState = "deferred"
	BillingFailed   BillingState = "failed"
	BillingFree     BillingState = "free"
)

// Options are the per-task choices made at creation time.
type Options struct {
	SourceLanguage   string `json:"source_language,omitempty"`
	TargetLanguage   string `json:"target_language,omitempty"`
	TranslateChannel string `json:"translate_channel,omitempty"`
	ASRModel         string `json:"asr_model,omitempty"`
	UseCUDA          bool   `json:"use_cuda,omitempty"`
}

// Task is the unit of work owned by the task manager.
type Task struct {
	ID         string `json:"task_id"`
	Kind       Kind   `json:"kind"`
	SourcePath string `json:"source_path"`
	WorkDir    string `json:"work_dir"`
	WavPath    string `json:"wav_path,omitempty"`
	SRTPath    string `json:"srt_path,omitempty"`
	OutputPath string `json:"output_path,omitempty"`
	RawStem    string `json:"raw_stem"`
	RawExt     string `json:"raw_ext"`
	Options

	Status    Status  `json:"status"`
	Progress  float64 `json:"progress"`
	Error     string  `json:"error,omitempty"`
	ErrorCode string  `json:"error_code,omitempty"`

	EstimatedCost int64        `json:"estimated_cost"`
	Quote         int64        `json:"quote,omitempty"`
	ActualCost    *int64       `json:"actual_cost,omitempty"`
	Billing       BillingState `json:"billing,omitempty"`
	OrderID       string       `json:"order_id,omitempty"`

	DurationMS int64  `json:"duration_ms,omitempty"`
	CharCount  int    `json:"char_count,omitempty"`
	AudioURL   string `json:"audio_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fingerprint derives the task id from the source path, model and creation time.
func Fingerprint(sourcePath, model string, createdAt time.Time) string {
	sum := md5.Sum([]byte(sourcePath + model + strconv.FormatInt(createdAt.UnixNano(), 10)))
	return hex.EncodeToString(sum[:])
}

// DurationSeconds returns the probed duration in seconds.
func (t *Task) DurationSeconds() float64 {
	return float64(t.DurationMS) / 1000
}

// Clone returns a deep copy safe to hand to other goroutines.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.ActualCost != nil {
		v := *t.ActualCost
		c.ActualCost = &v
	}
	return &c
}
