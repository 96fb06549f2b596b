// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/subforge/internal/fault"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	TaskID string `json:"task_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error kind to a status and the user-facing code.
func writeError(w http.ResponseWriter, err error, taskID string) {
	body := errorBody{Error: fault.UserCode(err), Detail: err.Error(), TaskID: taskID}
	if fault.KindOf(err) == fault.KindInternal {
		body.Detail = ""
	}
	writeJSON(w, statusFor(err), body)
}

func statusFor(err error) int {
	switch fault.KindOf(err) {
	case fault.KindInvalidInput, fault.KindMediaDecode:
		return http.StatusBadRequest
	case fault.KindAuthentication:
		return http.StatusUnauthorized
	case fault.KindInsufficientBalance:
		return http.StatusPaymentRequired
	case fault.KindAPIKeyMissing:
		return http.StatusPreconditionFailed
	case fault.KindCancelled:
		return http.StatusConflict
	case fault.KindNetworkTransient, fault.KindLLMMalformed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeNotFound(w http.ResponseWriter, id string) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", TaskID: id})
}
