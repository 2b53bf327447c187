package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"studyflow/internal/config"
	"studyflow/internal/models"
	"studyflow/internal/pubsub"
)

func newTestReporter(t *testing.T) *Reporter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &Reporter{
		pub:     pubsub.NewPublisher(client),
		store:   newFakeJobStore(),
		channel: "job:progress:job-1",
		jobID:   "job-1",
	}
}

func TestUploadHandler_StoresDocumentLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 lecture notes"))
	}))
	defer srv.Close()

	tempDir := t.TempDir()
	cfg := config.Config{
		UploadOutputDir: tempDir,
		UploadMaxBytes:  1024 * 1024,
	}

	handler, err := NewUploadHandler(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new upload handler: %v", err)
	}

	job := models.Job{
		ID:          "job-1",
		ProcessType: models.ProcessUpload,
		Payload: map[string]any{
			"source_url": srv.URL + "/notes.pdf",
			"file_name":  "notes.pdf",
		},
	}

	result, err := handler.Handle(context.Background(), job, newTestReporter(t))
	if err != nil {
		t.Fatalf("handle upload: %v", err)
	}

	key, ok := result["file_key"].(string)
	if !ok || key != "documents/job-1/notes.pdf" {
		t.Fatalf("unexpected file key %v", result["file_key"])
	}
	data, err := os.ReadFile(filepath.Join(tempDir, "documents", "job-1", "notes.pdf"))
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	if string(data) != "%PDF-1.4 lecture notes" {
		t.Fatalf("stored document corrupted: %q", data)
	}
}

func TestUploadHandler_FileNameDefaultsToURLBase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("slides"))
	}))
	defer srv.Close()

	handler, err := NewUploadHandler(context.Background(), config.Config{UploadOutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new upload handler: %v", err)
	}

	job := models.Job{
		ID:          "job-2",
		ProcessType: models.ProcessUpload,
		Payload:     map[string]any{"source_url": srv.URL + "/week3/slides.pptx"},
	}

	result, err := handler.Handle(context.Background(), job, newTestReporter(t))
	if err != nil {
		t.Fatalf("handle upload: %v", err)
	}
	if result["file_key"] != "documents/job-2/slides.pptx" {
		t.Fatalf("expected file name from URL path, got %v", result["file_key"])
	}
}

func TestUploadHandler_MissingSourceURLFails(t *testing.T) {
	handler, err := NewUploadHandler(context.Background(), config.Config{UploadOutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new upload handler: %v", err)
	}

	job := models.Job{ID: "job-3", ProcessType: models.ProcessUpload, Payload: map[string]any{}}
	if _, err := handler.Handle(context.Background(), job, newTestReporter(t)); err == nil {
		t.Fatal("expected error for missing source_url")
	}
}

func TestUploadHandler_RejectsOversizedDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	handler, err := NewUploadHandler(context.Background(), config.Config{
		UploadOutputDir: t.TempDir(),
		UploadMaxBytes:  16,
	})
	if err != nil {
		t.Fatalf("new upload handler: %v", err)
	}

	job := models.Job{
		ID:          "job-4",
		ProcessType: models.ProcessUpload,
		Payload:     map[string]any{"source_url": srv.URL + "/big.pdf"},
	}
	if _, err := handler.Handle(context.Background(), job, newTestReporter(t)); err == nil {
		t.Fatal("expected error for oversized document")
	}
}

func TestUploadHandler_S3DestinationWithoutBucketFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("doc"))
	}))
	defer srv.Close()

	handler, err := NewUploadHandler(context.Background(), config.Config{UploadOutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new upload handler: %v", err)
	}

	job := models.Job{
		ID:          "job-5",
		ProcessType: models.ProcessUpload,
		Payload: map[string]any{
			"source_url":  srv.URL + "/doc.txt",
			"destination": "s3",
		},
	}
	if _, err := handler.Handle(context.Background(), job, newTestReporter(t)); err == nil {
		t.Fatal("expected error when s3 destination has no bucket configured")
	}
}
