package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"arenaoj/internal/common/storage"
	"arenaoj/internal/judge/model"

	"github.com/klauspost/compress/zstd"
)

const reportContentType = "application/zstd"

// ArtifactStore keeps submission sources and final reports in object storage.
type ArtifactStore struct {
	store  storage.ObjectStorage
	bucket string
}

// NewArtifactStore creates an artifact store.
func NewArtifactStore(store storage.ObjectStorage, bucket string) (*ArtifactStore, error) {
	if store == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	return &ArtifactStore{store: store, bucket: bucket}, nil
}

// SourceKey is submissions/<id>/source.<ext>, where ext follows the language's source file.
func SourceKey(submissionID, sourceFile string) string {
	ext := filepath.Ext(sourceFile)
	if ext == "" {
		ext = ".txt"
	}
	return path.Join("submissions", submissionID, "source"+ext)
}

// ReportKey is submissions/<id>/report.json.zst.
func ReportKey(submissionID string) string {
	return path.Join("submissions", submissionID, "report.json.zst")
}

// PutSource uploads the submitted code and returns its key.
func (a *ArtifactStore) PutSource(ctx context.Context, sub *model.Submission, sourceFile string) (string, error) {
	key := SourceKey(sub.ID, sourceFile)
	reader := strings.NewReader(sub.SourceCode)
	if err := a.store.PutObject(ctx, a.bucket, key, reader, reader.Size(), "text/plain; charset=utf-8"); err != nil {
		return "", err
	}
	return key, nil
}

// PutReport archives the final record as zstd-compressed JSON.
func (a *ArtifactStore) PutReport(ctx context.Context, sub *model.Submission) (string, error) {
	report := sub.Clone()
	report.SourceCode = ""
	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report failed: %w", err)
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("create zstd writer failed: %w", err)
	}
	if _, err := enc.Write(payload); err != nil {
		enc.Close()
		return "", fmt.Errorf("compress report failed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("compress report failed: %w", err)
	}
	key := ReportKey(sub.ID)
	if err := a.store.PutObject(ctx, a.bucket, key, &buf, int64(buf.Len()), reportContentType); err != nil {
		return "", err
	}
	return key, nil
}

// GetReport reads an archived report back.
func (a *ArtifactStore) GetReport(ctx context.Context, submissionID string) (*model.Submission, error) {
	reader, err := a.store.GetObject(ctx, a.bucket, ReportKey(submissionID))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	dec, err := zstd.NewReader(reader)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader failed: %w", err)
	}
	defer dec.Close()
	payload, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress report failed: %w", err)
	}
	var sub model.Submission
	if err := json.Unmarshal(payload, &sub); err != nil {
		return nil, fmt.Errorf("decode report failed: %w", err)
	}
	return &sub, nil
}
