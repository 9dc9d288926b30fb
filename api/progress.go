package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/poiesic/chatvec/progress"
)

// getProgress handles GET /api/v1/progress/{taskID}
func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := s.tasks.Get(chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// deleteProgress handles DELETE /api/v1/progress/{taskID}. Running tasks
// cannot be removed.
func (s *Server) deleteProgress(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.tasks.Delete(taskID); err != nil {
		writeError(w, err, taskID)
		return
	}
	writeJSON(w, http.StatusOK, Response{Status: statusSuccess, Message: "progress deleted", TaskID: taskID})
}

// streamProgress handles GET /api/v1/progress/{taskID}/stream. It pushes
// a server-sent event per poll until the task reaches a terminal stage,
// the task disappears or the client goes away.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"), taskID)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for tick := 0; ; tick++ {
		id := fmt.Sprintf("%s-%d", taskID, tick)
		snap, err := s.tasks.Get(taskID)
		if err != nil {
			writeEvent(w, id, "error", progress.Snapshot{
				TaskID:            taskID,
				Stage:             progress.StageFailed,
				StatusDescription: "task not found",
				Failed:            true,
			})
			flusher.Flush()
			return
		}

		if err := writeEvent(w, id, eventName(snap), snap); err != nil {
			s.logger.Debug("progress stream closed", "taskId", taskID, "err", err)
			return
		}
		flusher.Flush()
		if snap.Completed || snap.Failed {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func eventName(snap progress.Snapshot) string {
	switch {
	case snap.Completed:
		return "completed"
	case snap.Failed:
		return "failed"
	default:
		return "progress"
	}
}

func writeEvent(w io.Writer, id, event string, snap progress.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
