package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/poiesic/chatvec/core"
	"github.com/poiesic/chatvec/ingestion"
	"github.com/poiesic/chatvec/progress"
	"github.com/poiesic/chatvec/storage"
)

const (
	statusSuccess = "SUCCESS"
	statusError   = "ERROR"
)

// Response is the envelope for command-style endpoints.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	TaskID  string `json:"taskId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error, taskID string) {
	writeJSON(w, statusFor(err), Response{Status: statusError, Message: err.Error(), TaskID: taskID})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidArgument), errors.Is(err, progress.ErrTaskNotTerminal):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, progress.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingestion.ErrSyncInProgress), errors.Is(err, ingestion.ErrInitialSyncRequired):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeJSON(w, http.StatusUnauthorized, Response{Status: statusError, Message: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
