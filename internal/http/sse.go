package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hperssn/palmpay/internal/domain"
)

// streamEvent is what a renderer receives: the primary view only.
type streamEvent struct {
	SessionID string             `json:"sessionId"`
	View      domain.PrimaryView `json:"view"`
	Done      bool               `json:"done"`
}

func (s *Server) streamSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	seq, ok := s.sequencer(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, ok := s.manager.Events(id)
	if !ok {
		respondError(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// current state first so late subscribers can render immediately
	writeEvent(w, streamEvent{SessionID: id, View: seq.View().Primary})
	flusher.Flush()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}

			writeEvent(w, streamEvent{SessionID: ev.SessionID, View: ev.View.Primary, Done: ev.Done})
			flusher.Flush()

			if ev.Done {
				return
			}

		case <-seq.Done():
			// session stopped or swept; tell the client this stream is over
			writeEvent(w, streamEvent{SessionID: id, View: seq.View().Primary, Done: true})
			flusher.Flush()
			return

		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, ev streamEvent) {
	data, _ := json.Marshal(ev)
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}
