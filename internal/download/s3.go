package download

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Downloader fetches s3:// URIs with the AWS SDK, using the
// ambient credential chain (env, shared config, instance role).
// Anonymous access is attempted when no credentials resolve, which
// covers public genomics buckets.
type S3Downloader struct {
	logger *slog.Logger

	once   sync.Once
	client *s3.Client
	err    error
}

// NewS3Downloader creates the s3 scheme downloader. The AWS client is
// constructed lazily on first fetch.
func NewS3Downloader(logger *slog.Logger) *S3Downloader {
	return &S3Downloader{logger: logger.With("component", "s3")}
}

func (d *S3Downloader) Schemes() []string { return []string{"s3"} }

func (d *S3Downloader) init(ctx context.Context) (*s3.Client, error) {
	d.once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			d.err = fmt.Errorf("aws config: %w", err)
			return
		}
		if _, credErr := cfg.Credentials.Retrieve(ctx); credErr != nil {
			cfg.Credentials = aws.AnonymousCredentials{}
			d.logger.Debug("no AWS credentials, using anonymous access")
		}
		d.client = s3.NewFromConfig(cfg)
	})
	return d.client, d.err
}

// Fetch downloads one s3://bucket/key object into destDir.
func (d *S3Downloader) Fetch(ctx context.Context, uri, destDir string) (string, error) {
	bucket, key, err := parseS3URI(uri)
	if err != nil {
		return "", err
	}
	client, err := d.init(ctx)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(destDir, filepath.Base(key))
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer f.Close()

	dl := manager.NewDownloader(client)
	n, err := dl.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("s3 get %s: %w", uri, err)
	}
	d.logger.Info("s3 object downloaded", "uri", uri, "bytes", n)
	return dest, nil
}

func parseS3URI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 URI %q", uri)
	}
	return bucket, key, nil
}
