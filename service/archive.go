package service

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

// Archiver copies an owner's output tree somewhere durable before it is purged.
type Archiver interface {
	Archive(ctx context.Context, owner, localDir string) error
}

type minioArchiver struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func NewMinIOArchiver(client *minio.Client, bucket string) Archiver {
	return &minioArchiver{client: client, bucket: bucket, now: time.Now}
}

func (a *minioArchiver) Archive(ctx context.Context, owner, localDir string) error {
	prefix := archivePrefix(owner, a.now())
	zerolog.Ctx(ctx).Info().Str("owner_id", owner).Str("bucket", a.bucket).Str("prefix", prefix).Msg("archiving stream output")
	return uploadDirectory(ctx, a.client, a.bucket, localDir, prefix)
}

func archivePrefix(owner string, at time.Time) string {
	return path.Join("archive", owner, at.UTC().Format("20060102T150405Z"))
}

func uploadDirectory(ctx context.Context, client *minio.Client, bucket, localPath, remotePrefix string) error {
	return filepath.Walk(localPath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relativePath, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		objectName := path.Join(remotePrefix, filepath.ToSlash(relativePath))

		_, uploadErr := client.FPutObject(ctx, bucket, objectName, p, minio.PutObjectOptions{})
		return uploadErr
	})
}
