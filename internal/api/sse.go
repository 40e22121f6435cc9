package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/taskwire/jobstream/internal/progress"
	"github.com/taskwire/jobstream/internal/registry"
	"github.com/taskwire/jobstream/internal/stream"
)

// streamEvents handles GET /v1/jobs/{job_id}/events. It serves the job's
// progress sequence as Server-Sent Events, one data frame per record, and a
// final "end" event when the stream closes. The connection stays open until
// the job finishes or the client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := s.dispatcher.Attach(jobID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("attach failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to attach")
		return
	}
	defer sub.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		evt, err := sub.Next(r.Context())
		if err != nil {
			if errors.Is(err, stream.ErrEnded) {
				fmt.Fprintf(w, "event: end\ndata: {}\n\n")
				flusher.Flush()
			}
			// Anything else is the client going away; nothing to send.
			return
		}
		if err := writeSSEEvent(w, evt); err != nil {
			s.logger.Debug("sse write failed, dropping subscriber",
				zap.String("job_id", jobID.String()),
				zap.Error(err),
			)
			return
		}
		flusher.Flush()
	}
}

func writeSSEEvent(w http.ResponseWriter, evt progress.Event) error {
	payload, err := json.Marshal(toEventDTO(evt))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", evt.Seq, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func toEventDTO(evt progress.Event) eventDTO {
	return eventDTO{
		Step:     evt.Step,
		Progress: evt.Percent,
		Error:    evt.Err,
	}
}
