package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/agrathwohl/pvp/internal/s3client"
	"github.com/agrathwohl/pvp/internal/sharedctx"
)

// ObjectAPI is the part of the S3 API the store uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 stores blobs as objects named <prefix><hex digest>.
type S3 struct {
	client ObjectAPI
	bucket string
	prefix string
}

// NewS3 connects to bucket in region. A non-empty endpoint selects an
// S3-compatible service with path-style addressing.
func NewS3(ctx context.Context, bucket, prefix, region, endpoint string) (*S3, error) {
	client, err := s3client.New(ctx, region, endpoint)
	if err != nil {
		return nil, err
	}
	return NewS3WithClient(client, bucket, prefix), nil
}

// NewS3WithClient wraps an existing client.
func NewS3WithClient(client ObjectAPI, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) key(ref string) string {
	return s.prefix + strings.TrimPrefix(ref, sharedctx.RefPrefix)
}

func (s *S3) Put(ctx context.Context, b []byte) (string, error) {
	ref := sharedctx.Hash(b)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(ref)),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", ref, err)
	}
	return ref, nil
}

func (s *S3) Get(ctx context.Context, ref string) ([]byte, error) {
	if !sharedctx.ValidRef(ref) {
		return nil, fmt.Errorf("invalid content ref %q", ref)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get %s: %w", ref, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", ref, err)
	}
	if sharedctx.Hash(b) != ref {
		return nil, fmt.Errorf("s3 object for %s does not match its hash", ref)
	}
	return b, nil
}
