package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reelswap/internal/config"
	"reelswap/internal/httpapi"
	"reelswap/internal/ledger"
	"reelswap/internal/logging"
	"reelswap/internal/objectstore"
	"reelswap/internal/taskqueue"
	"reelswap/internal/testsupport"
)

type apiHarness struct {
	cfg    *config.Config
	ledger *ledger.Ledger
	queue  *taskqueue.Queue
	store  objectstore.Store
}

func newHarness(t *testing.T) *apiHarness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	l, q := testsupport.MustOpenLedger(t, cfg)
	store, err := objectstore.NewFilesystem(cfg.Storage.LocalRoot, "https://cdn.example")
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return &apiHarness{cfg: cfg, ledger: l, queue: q, store: store}
}

func (h *apiHarness) server(t *testing.T, mutate func(*httpapi.Deps)) *httpapi.Server {
	t.Helper()
	deps := httpapi.Deps{Jobs: h.ledger, Queue: h.queue, Store: h.store, Logger: logging.NewNop()}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := httpapi.New(h.cfg, deps)
	if err != nil {
		t.Fatalf("httpapi.New: %v", err)
	}
	return srv
}

func serve(t *testing.T, srv *httpapi.Server, req *http.Request) (*httptest.ResponseRecorder, httpapi.Response) {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	var resp httpapi.Response
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", w.Body.String(), err)
		}
	}
	return w, resp
}

func postJob(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/jobs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func dataField(t *testing.T, resp httpapi.Response, key string) any {
	t.Helper()
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected object data, got %#v", resp.Data)
	}
	return data[key]
}

func TestCreateJobQueuesSplit(t *testing.T) {
	h := newHarness(t)
	srv := h.server(t, nil)

	w, resp := serve(t, srv, postJob(`{"video_path": "uploads/talk.mp4"}`))
	if w.Code != http.StatusCreated || !resp.Success {
		t.Fatalf("expected 201 success, got %d %+v", w.Code, resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
	jobID, _ := dataField(t, resp, "job_id").(string)
	if jobID == "" || dataField(t, resp, "status") != "queued" || dataField(t, resp, "status_url") != "/jobs/"+jobID {
		t.Fatalf("unexpected data: %#v", resp.Data)
	}

	ctx := context.Background()
	job, err := h.ledger.GetJob(ctx, jobID)
	if err != nil || job.SourceRef != "uploads/talk.mp4" || job.Status != ledger.StatusQueued {
		t.Fatalf("GetJob = %+v, %v", job, err)
	}
	tasks, err := h.queue.List(ctx, jobID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Name != taskqueue.TaskSplit || tasks[0].Generation != 0 {
		t.Fatalf("expected one split task, got %+v", tasks)
	}
}

func TestCreateJobRequiresVideoPath(t *testing.T) {
	h := newHarness(t)
	srv := h.server(t, nil)

	for _, body := range []string{`{}`, `{"video_path": "  "}`, `not json`, ``} {
		w, resp := serve(t, srv, postJob(body))
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
		if resp.Success || resp.Error == nil || resp.Error.Code != httpapi.CodeInvalidRequest {
			t.Fatalf("body %q: unexpected response %+v", body, resp)
		}
	}
	jobs, err := h.ledger.ListJobs(context.Background())
	if err != nil || len(jobs) != 0 {
		t.Fatalf("expected no jobs, got %d, %v", len(jobs), err)
	}
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, taskqueue.Task) (int64, error) {
	return 0, errors.New("queue offline")
}

func TestEnqueueFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	srv := h.server(t, func(d *httpapi.Deps) { d.Queue = failingQueue{} })

	w, resp := serve(t, srv, postJob(`{"video_path": "uploads/talk.mp4"}`))
	if w.Code != http.StatusInternalServerError || resp.Error == nil || resp.Error.Code != httpapi.CodeInternal {
		t.Fatalf("expected 500 INTERNAL_ERROR, got %d %+v", w.Code, resp)
	}
	jobs, err := h.ledger.ListJobs(context.Background())
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected one job, got %d, %v", len(jobs), err)
	}
	if jobs[0].Status != ledger.StatusFailed || !strings.Contains(jobs[0].Error, "queue offline") {
		t.Fatalf("expected abandoned job to fail, got %+v", jobs[0])
	}
}

func TestGetJobReportsProgress(t *testing.T) {
	h := newHarness(t)
	srv := h.server(t, nil)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.ledger, "uploads/talk.mp4")
	started, err := h.ledger.BeginSplit(ctx, job.ID)
	if err != nil {
		t.Fatalf("BeginSplit: %v", err)
	}
	if err := h.ledger.SetClipCount(ctx, job.ID, started.Generation, 2); err != nil {
		t.Fatalf("SetClipCount: %v", err)
	}

	w, resp := serve(t, srv, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil))
	if w.Code != http.StatusOK || !resp.Success {
		t.Fatalf("expected 200, got %d %+v", w.Code, resp)
	}
	if dataField(t, resp, "status") != "processing" || dataField(t, resp, "total") != float64(2) || dataField(t, resp, "done") != float64(0) {
		t.Fatalf("unexpected data: %#v", resp.Data)
	}
	if _, ok := resp.Data.(map[string]any)["final_url"]; ok {
		t.Fatalf("final_url must be absent before finish: %#v", resp.Data)
	}
}

func TestGetJobReportsFinalURL(t *testing.T) {
	h := newHarness(t)
	srv := h.server(t, nil)
	ctx := context.Background()
	job := testsupport.NewJob(t, h.ledger, "uploads/talk.mp4")
	started, err := h.ledger.BeginSplit(ctx, job.ID)
	if err != nil {
		t.Fatalf("BeginSplit: %v", err)
	}
	if err := h.ledger.SetClipCount(ctx, job.ID, started.Generation, 1); err != nil {
		t.Fatalf("SetClipCount: %v", err)
	}
	if _, err := h.ledger.RecordClipOutcome(ctx, ledger.ClipOutcome{JobID: job.ID, Index: 0, Generation: started.Generation}); err != nil {
		t.Fatalf("RecordClipOutcome: %v", err)
	}
	if _, err := h.ledger.CompleteClip(ctx, job.ID, 0, started.Generation); err != nil {
		t.Fatalf("CompleteClip: %v", err)
	}
	if _, _, err := h.ledger.BeginStitch(ctx, job.ID); err != nil {
		t.Fatalf("BeginStitch: %v", err)
	}
	if _, err := h.ledger.Finish(ctx, job.ID, objectstore.FinalKey(job.ID)); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	_, resp := serve(t, srv, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil))
	want := "https://cdn.example/jobs/" + job.ID + "/final.mp4"
	if dataField(t, resp, "status") != "finished" || dataField(t, resp, "final_url") != want {
		t.Fatalf("unexpected data: %#v", resp.Data)
	}
	if dataField(t, resp, "done") != float64(1) {
		t.Fatalf("expected done=1, got %#v", resp.Data)
	}
}

func TestGetFailedJobReportsError(t *testing.T) {
	h := newHarness(t)
	srv := h.server(t, nil)
	job := testsupport.NewJob(t, h.ledger, "uploads/talk.mp4")
	if _, err := h.ledger.Fail(context.Background(), job.ID, "split: no video stream"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	_, resp := serve(t, srv, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil))
	if dataField(t, resp, "status") != "failed" || dataField(t, resp, "error") != "split: no video stream" {
		t.Fatalf("unexpected data: %#v", resp.Data)
	}
}

func TestGetUnknownJobIsNotFound(t *testing.T) {
	h := newHarness(t)
	srv := h.server(t, nil)

	w, resp := serve(t, srv, httptest.NewRequest(http.MethodGet, "/jobs/does-not-exist", nil))
	if w.Code != http.StatusNotFound || resp.Error == nil || resp.Error.Code != httpapi.CodeNotFound {
		t.Fatalf("expected 404 NOT_FOUND, got %d %+v", w.Code, resp)
	}
}

func TestWrongMethodIsRejected(t *testing.T) {
	h := newHarness(t)
	srv := h.server(t, nil)

	w, resp := serve(t, srv, httptest.NewRequest(http.MethodDelete, "/jobs/abc", nil))
	if w.Code != http.StatusMethodNotAllowed || resp.Error == nil || resp.Error.Code != httpapi.CodeMethodNotAllowed {
		t.Fatalf("expected 405, got %d %+v", w.Code, resp)
	}
}

func TestTokenGuardsSubmission(t *testing.T) {
	h := newHarness(t)
	h.cfg.API.Token = "s3cret"
	srv := h.server(t, nil)

	w, resp := serve(t, srv, postJob(`{"video_path": "uploads/talk.mp4"}`))
	if w.Code != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != httpapi.CodeUnauthorized {
		t.Fatalf("expected 401, got %d %+v", w.Code, resp)
	}

	req := postJob(`{"video_path": "uploads/talk.mp4"}`)
	req.Header.Set("Authorization", "Bearer s3cret")
	if w, _ := serve(t, srv, req); w.Code != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d", w.Code)
	}

	job := testsupport.NewJob(t, h.ledger, "uploads/other.mp4")
	if w, _ := serve(t, srv, httptest.NewRequest(http.MethodGet, "/jobs/"+job.ID, nil)); w.Code != http.StatusOK {
		t.Fatalf("status reads stay open, got %d", w.Code)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	h := newHarness(t)
	h.cfg.API.AllowedOrigins = []string{"https://app.example.com"}
	srv := h.server(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("expected allowed origin header, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin for foreign site: %q", got)
	}
}

type healthStub struct{ err error }

func (h healthStub) Health(context.Context) error { return h.err }

func TestHealthReflectsDatabase(t *testing.T) {
	h := newHarness(t)
	db := testsupport.MustOpenDatabase(t, h.cfg)
	srv := h.server(t, func(d *httpapi.Deps) { d.Health = db })

	if w, resp := serve(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil)); w.Code != http.StatusOK || !resp.Success {
		t.Fatalf("expected healthy, got %d %+v", w.Code, resp)
	}

	down := h.server(t, func(d *httpapi.Deps) { d.Health = healthStub{err: errors.New("disk I/O error")} })
	w, resp := serve(t, down, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable || resp.Error == nil || resp.Error.Code != httpapi.CodeUnavailable {
		t.Fatalf("expected 503, got %d %+v", w.Code, resp)
	}
}

func TestStartServesUntilCancelled(t *testing.T) {
	h := newHarness(t)
	srv := h.server(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	resp, err := http.Post("http://"+srv.Addr()+"/jobs", "application/json", bytes.NewBufferString(`{"video_path":"https://cdn.example/in.mp4"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
}
