package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// ReportArchiver stores the summary of a bulk payout run.
type ReportArchiver interface {
	Archive(ctx context.Context, report *BulkResult) error
}

type nopArchiver struct{}

func (nopArchiver) Archive(context.Context, *BulkResult) error { return nil }

type minioArchiver struct {
	client *minio.Client
	bucket string
}

func NewMinioArchiver(client *minio.Client, bucket string) ReportArchiver {
	return &minioArchiver{client: client, bucket: bucket}
}

func reportObjectName(report *BulkResult) string {
	return fmt.Sprintf("payout-runs/%s/%s.json", report.StartedAt.UTC().Format("2006/01/02"), report.RunID)
}

func (a *minioArchiver) Archive(ctx context.Context, report *BulkResult) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}

	name := reportObjectName(report)
	info, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return err
	}

	zap.L().Info("payout run archived", zap.String("bucket", a.bucket), zap.String("object", info.Key), zap.Int64("size", info.Size))
	return nil
}
