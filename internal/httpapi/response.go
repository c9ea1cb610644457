package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"reelswap/internal/logging"
)

// Error codes returned in the response envelope.
const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL_ERROR"
	CodeUnavailable      = "UNAVAILABLE"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// Response is the envelope every handler writes.
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail carries a stable code and a human readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreatedJob is the data of a successful POST /jobs.
type CreatedJob struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
}

// JobStatus is the data of GET /jobs/{id}.
type JobStatus struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Total    int    `json:"total"`
	Done     int    `json:"done"`
	Error    string `json:"error,omitempty"`
	FinalURL string `json:"final_url,omitempty"`
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", logging.Error(err))
	}
}

func writeData(logger *slog.Logger, w http.ResponseWriter, status int, message string, data any) {
	writeJSON(logger, w, status, Response{Success: true, Message: message, Data: data})
}

func writeError(logger *slog.Logger, w http.ResponseWriter, status int, code, message string) {
	writeJSON(logger, w, status, Response{
		Success: false,
		Message: message,
		Error:   &ErrorDetail{Code: code, Message: message},
	})
}
