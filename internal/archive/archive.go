// Package archive copies swept images to object storage before they are deleted.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/prn-tf/imagevault/internal/config"
	"github.com/prn-tf/imagevault/internal/domain"
)

// Archiver stores a copy of a blob's processed bytes.
type Archiver interface {
	Archive(ctx context.Context, blob *domain.Blob, data []byte) error
	Enabled() bool
}

// NoopArchiver discards everything.
type NoopArchiver struct{}

// Archive does nothing.
func (NoopArchiver) Archive(context.Context, *domain.Blob, []byte) error { return nil }

// Enabled reports false so callers can skip reassembling chunks.
func (NoopArchiver) Enabled() bool { return false }

// putObjectAPI is the subset of *s3.Client used here.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes swept blobs to an S3-compatible bucket.
type S3Archiver struct {
	client putObjectAPI
	bucket string
	keys   KeyConfig
	logger zerolog.Logger
}

// NewS3Archiver builds an S3 client from cfg.
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig, logger zerolog.Logger) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newS3Archiver(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3Archiver(client putObjectAPI, bucket, prefix string, logger zerolog.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		keys:   DefaultKeyConfig(prefix),
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// Enabled reports true.
func (a *S3Archiver) Enabled() bool { return true }

// Archive uploads data under a hash-sharded key with the blob's identity as object metadata.
func (a *S3Archiver) Archive(ctx context.Context, blob *domain.Blob, data []byte) error {
	key := a.ObjectKey(blob)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(blob.Mimetype),
		Metadata: map[string]string{
			"original-name": url.QueryEscape(blob.OriginalName),
			"owner-id":      url.QueryEscape(blob.OwnerID),
			"sha256":        blob.Hash,
			"usage-count":   strconv.FormatInt(blob.UsageCount, 10),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	a.logger.Debug().
		Str("blob_id", blob.ID).
		Str("key", key).
		Int("size", len(data)).
		Msg("Archived blob")
	return nil
}

// ObjectKey returns the archive key for blob.
func (a *S3Archiver) ObjectKey(blob *domain.Blob) string {
	return ComputeKey(a.keys, blob.Hash, blob.ID+"."+extension(blob.Mimetype))
}

var (
	_ Archiver = NoopArchiver{}
	_ Archiver = (*S3Archiver)(nil)
)
