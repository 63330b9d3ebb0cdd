package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// S3Backend persists checkpoints in Amazon S3 or a compatible object store.
// Without credentials it is read-only against public buckets.
type S3Backend struct {
	client         *s3.S3
	writeClient    *s3.S3
	bucketName     string
	prefix         string
	log            *slog.Logger
	locationURI    string
	hasWriteAccess bool
}

// NewS3Backend creates an S3 checkpoint backend. If accessKey and secretKey
// are provided the backend has write access, otherwise it serves public
// buckets read-only.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	baseCfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		baseCfg.Endpoint = aws.String(endpoint)
	}

	baseSess, err := session.NewSession(&baseCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	readClient := s3.New(baseSess)

	hasWriteAccess := accessKey != "" && secretKey != ""
	writeClient := readClient
	if hasWriteAccess {
		writeCfg := baseCfg.Copy()
		writeCfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")

		writeSess, err := session.NewSession(writeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS write session: %w", err)
		}
		writeClient = s3.New(writeSess)
	} else {
		log.Warn("No S3 credentials provided, checkpoint writes may fail")
	}

	return &S3Backend{
		client:         readClient,
		writeClient:    writeClient,
		bucketName:     bucketName,
		prefix:         strings.TrimSuffix(prefix, "/"),
		log:            log,
		locationURI:    uri,
		hasWriteAccess: hasWriteAccess,
	}, nil
}

// Fetch retrieves the checkpoint object for a runtime. Returns
// ErrCheckpointNotFound if the object doesn't exist.
func (b *S3Backend) Fetch(ctx context.Context, runtimeID interfaces.Namespace) (*interfaces.Checkpoint, error) {
	start := time.Now()
	key := b.objectKey(runtimeID)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			b.log.Debug("Checkpoint not found in S3",
				slog.String("bucket", b.bucketName),
				slog.String("key", key),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("failed to get checkpoint from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint body: %w", err)
	}

	var cp interfaces.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}

	b.log.Debug("Fetched checkpoint from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Uint64("height", cp.Height),
		slog.Duration("duration", time.Since(start)))
	return &cp, nil
}

// Store uploads the checkpoint, never replacing one at a higher height.
func (b *S3Backend) Store(ctx context.Context, checkpoint *interfaces.Checkpoint) error {
	existing, err := b.Fetch(ctx, checkpoint.RuntimeID)
	if err == nil && existing.Height > checkpoint.Height {
		return nil
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	key := b.objectKey(checkpoint.RuntimeID)
	_, err = b.writeClient.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		if !b.hasWriteAccess {
			return fmt.Errorf("failed to upload checkpoint to S3 (no write credentials provided): %w", err)
		}
		return fmt.Errorf("failed to upload checkpoint to S3: %w", err)
	}

	b.log.Debug("Stored checkpoint in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Uint64("height", checkpoint.Height))
	return nil
}

// Available checks if the bucket is accessible.
func (b *S3Backend) Available(ctx context.Context) bool {
	start := time.Now()
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable",
			slog.String("bucket", b.bucketName),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return false
	}
	return true
}

// Name returns a unique identifier for this backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) objectKey(runtimeID interfaces.Namespace) string {
	name := runtimeID.String() + ".json"
	if b.prefix == "" {
		return name
	}
	return path.Join(b.prefix, name)
}
