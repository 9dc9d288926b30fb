package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/ingestion"
)

// SyncRequest starts a sync. Time is "YYYY-MM-DD" or
// "YYYY-MM-DD~YYYY-MM-DD" and is ignored once the talker has a checkpoint.
type SyncRequest struct {
	Talker string `json:"talker"`
	Time   string `json:"time"`
}

// CheckpointResponse describes a synced talker.
type CheckpointResponse struct {
	Talker       string    `json:"talker"`
	TalkerName   string    `json:"talkerName"`
	LastSeq      int64     `json:"lastSeq"`
	LastSyncTime time.Time `json:"lastSyncTime"`
}

// AutoSyncRequest enrolls or removes a talker from scheduled sync.
type AutoSyncRequest struct {
	Talker  string `json:"talker"`
	Enabled *bool  `json:"enabled"`
}

// startSync handles POST /api/v1/sync
func (s *Server) startSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON: %v", core.ErrInvalidArgument, err), "")
		return
	}
	if err := core.ValidateTalker(req.Talker); err != nil {
		writeError(w, err, "")
		return
	}

	tracker := s.tasks.Start(req.Talker, req.Time)
	taskID := tracker.TaskID()
	s.logger.Info("sync requested", "talker", req.Talker, "time", req.Time, "taskId", taskID)

	err := s.syncer.SyncAsync(s.baseCtx, req.Talker, req.Time, tracker, func(res *ingestion.RunResult, err error) {
		if err != nil {
			s.logger.Error("sync task failed", "taskId", taskID, "err", err)
			return
		}
		s.logger.Info("sync task completed", "taskId", taskID, "processed", res.Processed, "lastSeq", res.LastSeq)
	})
	if err != nil {
		writeError(w, err, taskID)
		return
	}

	writeJSON(w, http.StatusAccepted, Response{Status: statusSuccess, Message: "sync started", TaskID: taskID})
}

// listSynced handles GET /api/v1/sync?talker=
func (s *Server) listSynced(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := s.syncer.Synced(r.Context(), r.URL.Query().Get("talker"))
	if err != nil {
		writeError(w, err, "")
		return
	}
	out := make([]CheckpointResponse, 0, len(checkpoints))
	for _, cp := range checkpoints {
		out = append(out, CheckpointResponse{
			Talker:       cp.Talker,
			TalkerName:   cp.TalkerName,
			LastSeq:      cp.LastSeq,
			LastSyncTime: cp.LastSyncTime,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// deleteTalker handles DELETE /api/v1/sync/{talker}
func (s *Server) deleteTalker(w http.ResponseWriter, r *http.Request) {
	talker := chi.URLParam(r, "talker")
	if err := s.syncer.DeleteTalker(r.Context(), talker); err != nil {
		writeError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, Response{Status: statusSuccess, Message: "talker deleted"})
}

// listAutoSync handles GET /api/v1/autosync
func (s *Server) listAutoSync(w http.ResponseWriter, r *http.Request) {
	talkers, err := s.autoSync.AutoSyncTalkers(r.Context())
	if err != nil {
		writeError(w, err, "")
		return
	}
	if talkers == nil {
		talkers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"talkers": talkers})
}

// setAutoSync handles PUT /api/v1/autosync
func (s *Server) setAutoSync(w http.ResponseWriter, r *http.Request) {
	var req AutoSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON: %v", core.ErrInvalidArgument, err), "")
		return
	}
	if err := core.ValidateTalker(req.Talker); err != nil {
		writeError(w, err, "")
		return
	}
	if req.Enabled == nil {
		writeError(w, fmt.Errorf("%w: enabled is required", core.ErrInvalidArgument), "")
		return
	}
	if err := s.autoSync.SetAutoSync(r.Context(), req.Talker, *req.Enabled); err != nil {
		writeError(w, err, "")
		return
	}
	s.logger.Info("auto sync updated", "talker", req.Talker, "enabled", *req.Enabled)
	writeJSON(w, http.StatusOK, Response{Status: statusSuccess, Message: "auto sync updated"})
}
