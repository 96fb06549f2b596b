// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/subforge/internal/domain"
	"github.com/ManuGH/subforge/internal/fault"
	"github.com/ManuGH/subforge/internal/log"
)

type createRequest struct {
	Kind       domain.Kind    `json:"kind"`
	SourcePath string         `json:"source_path"`
	Options    domain.Options `json:"options"`
	// Submit defaults to true; false only records the task and its quote.
	Submit *bool `json:"submit,omitempty"`
}

const maxBody = 1 << 16

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, fault.Wrap(fault.KindInvalidInput, "api.create", err), "")
		return
	}

	id, err := s.tasks.CreateTask(r.Context(), req.Kind, req.SourcePath, req.Options)
	if err != nil {
		writeError(w, err, "")
		return
	}
	if req.Submit == nil || *req.Submit {
		if err := s.tasks.Submit(r.Context(), id); err != nil {
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Warn().Err(err).Str(log.FieldTaskID, id).Msg("task created but not submitted")
			writeError(w, err, id)
			return
		}
	}
	task, _ := s.tasks.Get(id)
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.Status(r.URL.Query().Get("status"))
	all := s.tasks.List()
	out := make([]domain.Task, 0, len(all))
	for _, t := range all {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := s.tasks.Get(id)
	if !ok {
		writeNotFound(w, id)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.tasks.Get(id); !ok {
		writeNotFound(w, id)
		return
	}
	if err := s.tasks.Cancel(id); err != nil {
		writeError(w, err, id)
		return
	}
	task, _ := s.tasks.Get(id)
	writeJSON(w, http.StatusAccepted, task)
}
