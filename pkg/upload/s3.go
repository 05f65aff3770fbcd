package upload

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/llvm/lnt/pkg/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultPrefix is the key prefix used when none is configured.
	DefaultPrefix = "lnt"

	// DefaultConcurrency bounds parallel PutObject calls.
	DefaultConcurrency = 8

	writeTestKey = ".lnt-write-test"
)

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log         logrus.FieldLogger
	cfg         *config.S3UploadConfig
	client      *s3.Client
	concurrency int
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader from the given configuration.
// concurrency bounds parallel uploads; values below one use
// DefaultConcurrency.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
	concurrency int,
) (Uploader, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	return &s3Uploader{
		log:         log.WithField("component", "s3-uploader"),
		cfg:         cfg,
		client:      newS3Client(cfg),
		concurrency: concurrency,
	}, nil
}

func newS3Client(cfg *config.S3UploadConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight verifies S3 connectivity by writing a small test object.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("lnt write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(u.key(writeTestKey)),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

// Upload walks localDir and uploads all files to S3 under prefix/name.
func (u *s3Uploader) Upload(
	ctx context.Context, localDir, name string,
) (int, error) {
	var files []string

	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			files = append(files, p)
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking directory %s: %w", localDir, err)
	}

	var count atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	for _, p := range files {
		g.Go(func() error {
			relPath, err := filepath.Rel(localDir, p)
			if err != nil {
				return fmt.Errorf("computing relative path: %w", err)
			}

			key := u.key(name, filepath.ToSlash(relPath))

			if err := u.uploadFile(gctx, p, key); err != nil {
				return fmt.Errorf("uploading %s: %w", relPath, err)
			}

			count.Add(1)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(count.Load()), err
	}

	u.log.WithFields(logrus.Fields{
		"files":  count.Load(),
		"bucket": u.cfg.Bucket,
		"prefix": u.key(name),
	}).Info("Upload completed")

	return int(count.Load()), nil
}

// uploadFile uploads a single file to S3.
func (u *s3Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(detectContentType(localPath)),
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if u.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Debug("Uploading file")

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject: %w", err)
	}

	return nil
}

// key joins parts under the configured prefix.
func (u *s3Uploader) key(parts ...string) string {
	prefix := strings.Trim(u.cfg.Prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}

	elems := make([]string, 0, len(parts)+1)
	elems = append(elems, prefix)

	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			elems = append(elems, p)
		}
	}

	return path.Join(elems...)
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "application/octet-stream"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
