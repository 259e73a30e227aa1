package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// Object metadata keys. S3 returns user metadata keys lowercased.
const (
	metaFileName  = "file-name"
	metaCreatedBy = "created-by"
	metaHash      = "sha256"
	metaCreatedAt = "created-at"
)

// S3API is the subset of *s3.Client used by S3BlobStore.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3BlobStore keeps each blob as one object under prefix, with the
// descriptive fields of BlobMetadata in object metadata.
type S3BlobStore struct {
	client  S3API
	bucket  string
	prefix  string
	maxSize int64
}

func NewS3BlobStore(client S3API, bucket, prefix string, maxSize int64) (*S3BlobStore, error) {
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3BlobStore{client: client, bucket: bucket, prefix: prefix, maxSize: maxSize}, nil
}

func (s *S3BlobStore) key(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrBlobNotFound
	}
	return s.prefix + id, nil
}

func (s *S3BlobStore) Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	data, err := readLimited(&meta, content, s.maxSize)
	if err != nil {
		return nil, err
	}
	key, _ := s.key(meta.ID)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(meta.Size),
		ContentType:   aws.String(meta.ContentType),
		Metadata: map[string]string{
			metaFileName:  url.PathEscape(meta.FileName),
			metaCreatedBy: url.PathEscape(meta.CreatedBy),
			metaHash:      meta.Hash,
			metaCreatedAt: meta.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}
	return &meta, nil
}

func (s *S3BlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	key, err := s.key(id)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("get object: %w", err)
	}
	meta := metadataFromObject(id, out.ContentType, out.ContentLength, out.Metadata)
	return out.Body, &meta, nil
}

// Delete checks for the object first; S3 itself reports success for
// missing keys.
func (s *S3BlobStore) Delete(ctx context.Context, id string) error {
	if _, err := s.GetMetadata(ctx, id); err != nil {
		return err
	}
	key, _ := s.key(id)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *S3BlobStore) GetMetadata(ctx context.Context, id string) (*BlobMetadata, error) {
	key, err := s.key(id)
	if err != nil {
		return nil, err
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("head object: %w", err)
	}
	meta := metadataFromObject(id, out.ContentType, out.ContentLength, out.Metadata)
	return &meta, nil
}

func metadataFromObject(id string, contentType *string, size *int64, md map[string]string) BlobMetadata {
	meta := BlobMetadata{
		ID:          id,
		ContentType: aws.ToString(contentType),
		Size:        aws.ToInt64(size),
		Hash:        md[metaHash],
	}
	meta.FileName, _ = url.PathUnescape(md[metaFileName])
	meta.CreatedBy, _ = url.PathUnescape(md[metaCreatedBy])
	if t, err := time.Parse(time.RFC3339Nano, md[metaCreatedAt]); err == nil {
		meta.CreatedAt = t
	}
	return meta
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
