package preflight_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelswap/internal/config"
	"reelswap/internal/preflight"
	"reelswap/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed || result.Detail == "" {
		t.Fatalf("expected failure with detail for missing dir, got %+v", result)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := preflight.CheckDirectoryAccess("test", f); result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := preflight.CheckFreeSpace("space", dir, 1); !result.Passed {
		t.Fatalf("expected one byte to be available, got %s", result.Detail)
	}
	result := preflight.CheckFreeSpace("space", dir, 1<<62)
	if result.Passed || !strings.Contains(result.Detail, "need") {
		t.Fatalf("expected shortfall, got %+v", result)
	}
	if result := preflight.CheckFreeSpace("space", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for missing path")
	}
}

func TestCheckCredential(t *testing.T) {
	if result := preflight.CheckCredential("key", "  ", "OPENAI_API_KEY"); result.Passed || !strings.Contains(result.Detail, "OPENAI_API_KEY") {
		t.Fatalf("expected missing key to fail with env hint, got %+v", result)
	}
	if result := preflight.CheckCredential("key", "sk-test", "OPENAI_API_KEY"); !result.Passed {
		t.Fatalf("expected configured key to pass, got %+v", result)
	}
}

func TestCheckSupabase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" || r.Header.Get("apikey") != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/storage/v1/bucket/uploads" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cases := []struct {
		name    string
		storage config.Storage
		passed  bool
		detail  string
	}{
		{"ok", config.Storage{SupabaseURL: srv.URL, SupabaseKey: "good", Bucket: "uploads"}, true, "reachable"},
		{"bad key", config.Storage{SupabaseURL: srv.URL, SupabaseKey: "bad", Bucket: "uploads"}, false, "auth failed"},
		{"bucket", config.Storage{SupabaseURL: srv.URL, SupabaseKey: "good", Bucket: "other"}, false, "not found"},
		{"no url", config.Storage{SupabaseKey: "good", Bucket: "uploads"}, false, "SUPABASE_URL"},
		{"no key", config.Storage{SupabaseURL: srv.URL, Bucket: "uploads"}, false, "SUPABASE_SECRET_KEY"},
	}
	for _, tc := range cases {
		result := preflight.CheckSupabase(context.Background(), tc.storage)
		if result.Passed != tc.passed || !strings.Contains(result.Detail, tc.detail) {
			t.Errorf("%s: got %+v", tc.name, result)
		}
	}
}

func TestCheckMediaBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	results := preflight.CheckMediaBinaries(cfg)
	if len(results) != 2 {
		t.Fatalf("expected ffmpeg and ffprobe, got %+v", results)
	}
	for _, r := range results {
		if !r.Passed {
			t.Errorf("%s not resolved: %s", r.Name, r.Detail)
		}
	}

	cfg.Pipeline.FFprobeBinary = "reelswap-missing-ffprobe"
	if failed := preflight.Failed(preflight.CheckMediaBinaries(cfg)); len(failed) != 1 || failed[0].Name != "FFprobe" {
		t.Fatalf("expected ffprobe failure, got %+v", failed)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := preflight.RunAll(context.Background(), nil, preflight.RoleWorker); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_APIRoleSkipsWorkerChecks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	results := preflight.RunAll(context.Background(), cfg, preflight.RoleAPI)
	if len(results) != 2 {
		t.Fatalf("expected data dir and object store checks, got %+v", results)
	}
	if failed := preflight.Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
}

func TestRunAll_WorkerReportsMissingCredentials(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	cfg.Transcription.APIKey = ""
	cfg.Reference.APIKey = "pplx-test"

	results := preflight.RunAll(context.Background(), cfg, preflight.RoleWorker)
	failed := preflight.Failed(results)
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		names = append(names, r.Name)
	}
	// Work directory space may legitimately fail on a nearly full test disk.
	for _, name := range names {
		if name != "Transcription API key" && name != "Work directory space" {
			t.Fatalf("unexpected failure %q in %+v", name, failed)
		}
	}
	found := false
	for _, name := range names {
		found = found || name == "Transcription API key"
	}
	if !found {
		t.Fatalf("expected missing transcription key, got %+v", results)
	}
}
