/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package backups

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/outreach/config"
)

const (
	snapshotPrefix = "snapshots"
	reportPrefix   = "ops_reports"
	maxUploadTries = 3
)

// Snapshotter copies a consistent image of the store to dest.
type Snapshotter interface {
	Snapshot(ctx context.Context, dest string) error
}

// S3API is the subset of the S3 client used for uploads.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// BackupManager writes pre-apply store snapshots and ships them, together
// with report artifacts, to S3 when a bucket is configured.
type BackupManager struct {
	Config   *config.Configuration
	S3Client S3API
	now      func() time.Time
}

func NewBackupManager(ctx context.Context, cnf *config.Configuration) (*BackupManager, error) {
	bm := &BackupManager{Config: cnf}
	if cnf.S3BucketName == "" {
		return bm, nil
	}
	client, err := NewS3Client(ctx, cnf)
	if err != nil {
		return nil, err
	}
	bm.S3Client = client
	return bm, nil
}

// NewS3Client builds a client from static credentials when they are set and
// from the default AWS chain otherwise. A custom endpoint implies path-style
// addressing, which S3 compatible stores expect.
func NewS3Client(ctx context.Context, cnf *config.Configuration) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cnf.S3Region)}
	if cnf.AwsAccessKeyId != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cnf.AwsAccessKeyId, cnf.AwsSecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if cnf.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cnf.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (bm *BackupManager) clock() time.Time {
	if bm.now != nil {
		return bm.now().UTC()
	}
	return time.Now().UTC()
}

// Enabled reports whether snapshots are configured.
func (bm *BackupManager) Enabled() bool {
	return bm != nil && bm.Config != nil && bm.Config.BackupDir != ""
}

// BackupToDisk snapshots the store into <backup_dir>/<YYYY-MM-DD>/ and zips it.
// The zip path is returned; the raw snapshot is removed.
func (bm *BackupManager) BackupToDisk(ctx context.Context, db Snapshotter) (string, error) {
	if !bm.Enabled() {
		return "", fmt.Errorf("backup directory is not configured")
	}
	now := bm.clock()
	dir := filepath.Join(bm.Config.BackupDir, now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	raw := filepath.Join(dir, fmt.Sprintf("outreach-%s-snapshot.sqlite", now.Format("150405")))
	if err := db.Snapshot(ctx, raw); err != nil {
		return "", err
	}
	defer os.Remove(raw)

	zipPath := raw + ".zip"
	if err := zipFiles(zipPath, raw); err != nil {
		return "", err
	}
	logrus.WithField("path", zipPath).Info("store snapshot written")
	return zipPath, nil
}

// BackupToS3 writes a snapshot to disk and uploads it when a bucket is configured.
func (bm *BackupManager) BackupToS3(ctx context.Context, db Snapshotter) (string, error) {
	zipPath, err := bm.BackupToDisk(ctx, db)
	if err != nil {
		return "", err
	}
	if bm.S3Client == nil {
		return zipPath, nil
	}
	key := path.Join(snapshotPrefix, filepath.Base(filepath.Dir(zipPath)), filepath.Base(zipPath))
	return zipPath, bm.Upload(ctx, zipPath, key)
}

// UploadArtifact ships a report artifact under ops_reports/<YYYY-MM-DD>/.
// Without a bucket it is a no-op.
func (bm *BackupManager) UploadArtifact(ctx context.Context, artifactPath string) error {
	if bm == nil || bm.S3Client == nil {
		return nil
	}
	key := path.Join(reportPrefix, bm.clock().Format("2006-01-02"), filepath.Base(artifactPath))
	return bm.Upload(ctx, artifactPath, key)
}

// Upload puts a local file at key, retrying transient failures.
func (bm *BackupManager) Upload(ctx context.Context, filePath, key string) error {
	operation := func() error {
		file, err := os.Open(filePath)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer file.Close()

		_, err = bm.S3Client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bm.Config.S3BucketName),
			Key:    aws.String(key),
			Body:   file,
		})
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxUploadTries-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("upload %s to s3://%s/%s: %w", filePath, bm.Config.S3BucketName, key, err)
	}
	logrus.WithFields(logrus.Fields{"bucket": bm.Config.S3BucketName, "key": key}).Info("uploaded to s3")
	return nil
}

func zipFiles(destZip string, sources ...string) error {
	zipFile, err := os.Create(destZip)
	if err != nil {
		return err
	}
	defer zipFile.Close()

	writer := zip.NewWriter(zipFile)
	for _, src := range sources {
		if err := addToZip(writer, src); err != nil {
			_ = writer.Close()
			return err
		}
	}
	return writer.Close()
}

func addToZip(writer *zip.Writer, src string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	entry, err := writer.Create(filepath.Base(src))
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, srcFile)
	return err
}
