package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"studyflow/internal/config"
	"studyflow/internal/models"
)

// uploader stores a source document and returns its final location.
type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// uploadPayload is the expected job payload for process type upload.
type uploadPayload struct {
	SourceURL   string
	FileName    string
	Destination string
}

// UploadHandler ingests a source document (the material flashcards and
// tests are generated from) into S3 or local disk.
type UploadHandler struct {
	cfg        config.Config
	httpClient *http.Client
	local      uploader
	s3         uploader
}

// NewUploadHandler constructs the handler and chooses an uploader
// (local or S3).
func NewUploadHandler(ctx context.Context, cfg config.Config) (*UploadHandler, error) {
	var s3Upload uploader
	if cfg.UploadS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s3Upload = &s3Uploader{client: client, bucket: cfg.UploadS3Bucket}
	}
	baseDir := cfg.UploadOutputDir
	if baseDir == "" {
		baseDir = "./uploads"
	}
	return &UploadHandler{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		local:      &localUploader{baseDir: baseDir},
		s3:         s3Upload,
	}, nil
}

// Handle downloads and stores a single document, reporting progress per
// stage.
func (h *UploadHandler) Handle(ctx context.Context, job models.Job, rep *Reporter) (map[string]any, error) {
	payload, err := decodeUploadPayload(job, h.cfg)
	if err != nil {
		return nil, err
	}

	rep.Progress(ctx, 10)
	data, contentType, err := h.download(ctx, payload.SourceURL)
	if err != nil {
		return nil, err
	}
	rep.Progress(ctx, 60)

	key := sanitizeKey(fmt.Sprintf("documents/%s/%s", job.ID, payload.FileName))
	up, err := h.pickUploader(payload.Destination)
	if err != nil {
		return nil, err
	}
	location, err := up.Upload(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	rep.Progress(ctx, 95)

	return map[string]any{"file_key": key, "location": location}, nil
}

func (h *UploadHandler) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("download document: status %d", resp.StatusCode)
	}

	limit := h.cfg.UploadMaxBytes
	if limit == 0 {
		limit = 25 * 1024 * 1024
	}
	limited := io.LimitReader(resp.Body, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read document: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, "", fmt.Errorf("document too large (>%d bytes)", limit)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

func decodeUploadPayload(job models.Job, cfg config.Config) (uploadPayload, error) {
	payload := uploadPayload{}
	if v, ok := job.Payload["source_url"].(string); ok {
		payload.SourceURL = v
	}
	if v, ok := job.Payload["file_name"].(string); ok {
		payload.FileName = v
	}
	if v, ok := job.Payload["destination"].(string); ok {
		payload.Destination = v
	}
	if payload.SourceURL == "" {
		return payload, errors.New("source_url is required")
	}
	if payload.FileName == "" {
		payload.FileName = path.Base(payload.SourceURL)
	}
	if payload.Destination == "" {
		if cfg.UploadS3Bucket != "" {
			payload.Destination = "s3"
		} else {
			payload.Destination = "local"
		}
	}
	return payload, nil
}

func (h *UploadHandler) pickUploader(destination string) (uploader, error) {
	switch strings.ToLower(destination) {
	case "s3":
		if h.s3 != nil {
			return h.s3, nil
		}
		return nil, errors.New("destination s3 requested but UPLOAD_S3_BUCKET is not configured")
	case "local", "":
		if h.local != nil {
			return h.local, nil
		}
	}
	if h.s3 != nil {
		return h.s3, nil
	}
	if h.local != nil {
		return h.local, nil
	}
	return nil, errors.New("no uploader configured")
}

func sanitizeKey(key string) string {
	key = strings.TrimLeft(path.Clean(key), "/")
	return strings.ReplaceAll(key, "..", "")
}
