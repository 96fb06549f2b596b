// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldTaskID    = "task_id"
	FieldOrderID   = "order_id"
	FieldRequestID = "request_id"
	FieldUserID    = "user_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldKind      = "kind"
	FieldStage     = "stage"
	FieldChunk     = "chunk"
	FieldAttempt   = "attempt"
	FieldWorker    = "worker"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Remote fields
	FieldProvider = "provider"
	FieldEndpoint = "endpoint"
	FieldStatus   = "status"

	// Path fields
	FieldPath    = "path"
	FieldWorkDir = "work_dir"
)
