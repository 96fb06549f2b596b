// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/subforge/internal/bus"
	"github.com/ManuGH/subforge/internal/log"
)

// handleEvents streams bus events as server-sent events. Repeated ?topic=
// parameters narrow the stream; ?task= keeps one task's events only.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var topics []bus.Topic
	for _, t := range q["topic"] {
		topics = append(topics, bus.Topic(t))
	}
	taskID := q.Get("task")

	rc := http.NewResponseController(w)
	sub := s.bus.Subscribe(bus.DefaultBuffer, topics...)
	defer sub.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Debug().Str("subscription", sub.ID()).Msg("event stream opened")
	defer func() {
		logger.Debug().Str("subscription", sub.ID()).Uint64("dropped", sub.Dropped()).Msg("event stream closed")
	}()

	heartbeat := time.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if taskID != "" && ev.TaskID != taskID {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Error().Err(err).Msg("encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Topic, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
