package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"reelswap/internal/ledger"
	"reelswap/internal/logging"
	"reelswap/internal/taskqueue"
)

const maxBodyBytes = 64 << 10

type createJobRequest struct {
	VideoPath string `json:"video_path"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithContext(r.Context(), s.logger)

	var req createJobRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		writeError(logger, w, http.StatusBadRequest, CodeInvalidRequest, "video_path is required")
		return
	}
	videoPath := strings.TrimSpace(req.VideoPath)
	if videoPath == "" {
		writeError(logger, w, http.StatusBadRequest, CodeInvalidRequest, "video_path is required")
		return
	}

	job, err := s.jobs.CreateJob(r.Context(), videoPath)
	if err != nil {
		logging.ErrorWithContext(logger, "create job failed", "job_create_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the database path and disk space"),
		)
		writeError(logger, w, http.StatusInternalServerError, CodeInternal, "Failed to create job")
		return
	}
	logger = logger.With(logging.String(logging.FieldJobID, job.ID))

	if _, err := s.queue.Enqueue(r.Context(), taskqueue.Task{Name: taskqueue.TaskSplit, JobID: job.ID}); err != nil {
		logging.ErrorWithContext(logger, "enqueue split failed", "job_enqueue_failed", logging.Error(err))
		s.abandon(r.Context(), job.ID, err)
		writeError(logger, w, http.StatusInternalServerError, CodeInternal, "Failed to create job")
		return
	}

	logger.Info("job submitted",
		logging.String(logging.FieldEventType, "job_submitted"),
		logging.String("source_ref", videoPath),
	)
	writeData(logger, w, http.StatusCreated, "Job created", CreatedJob{
		JobID:     job.ID,
		Status:    string(job.Status),
		StatusURL: "/jobs/" + job.ID,
	})
}

// abandon fails a job whose split task never reached the queue, so it does
// not sit in queued until it expires.
func (s *Server) abandon(ctx context.Context, jobID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.jobs.Fail(ctx, jobID, fmt.Sprintf("submit: %v", cause)); err != nil {
		s.logger.Warn("could not fail abandoned job",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
		)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithContext(r.Context(), s.logger)
	id := strings.TrimSpace(mux.Vars(r)["id"])

	job, err := s.jobs.GetJob(r.Context(), id)
	if errors.Is(err, ledger.ErrJobNotFound) {
		writeError(logger, w, http.StatusNotFound, CodeNotFound, "Job not found")
		return
	}
	if err != nil {
		logger.Error("load job failed", logging.String(logging.FieldJobID, id), logging.Error(err))
		writeError(logger, w, http.StatusInternalServerError, CodeInternal, "Failed to load job")
		return
	}

	status := JobStatus{
		JobID:  job.ID,
		Status: string(job.Status),
		Total:  job.ClipCount,
		Done:   job.DoneCount,
		Error:  job.Error,
	}
	if job.Status == ledger.StatusFinished && job.FinalRef != "" {
		status.FinalURL = s.store.PublicURL(job.FinalRef)
	}
	writeData(logger, w, http.StatusOK, "Job status retrieved", status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithContext(r.Context(), s.logger)
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Health(ctx); err != nil {
			logger.Warn("health check failed", logging.Error(err))
			writeError(logger, w, http.StatusServiceUnavailable, CodeUnavailable, "database unavailable")
			return
		}
	}
	writeData(logger, w, http.StatusOK, "", map[string]string{"status": "ok"})
}
