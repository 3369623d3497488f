package sync

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/agrathwohl/pvp/internal/s3client"
)

// ObjectPutter is the part of the S3 API a destination needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Destination writes the journal export to one object key.
type S3Destination struct {
	client ObjectPutter
	bucket string
	key    string
}

// NewS3Destination creates an S3 destination for bucket/key.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	client, err := s3client.New(ctx, region, endpoint)
	if err != nil {
		return nil, err
	}
	return NewS3DestinationWithClient(client, bucket, key), nil
}

// NewS3DestinationWithClient wraps an existing client.
func NewS3DestinationWithClient(client ObjectPutter, bucket, key string) *S3Destination {
	return &S3Destination{client: client, bucket: bucket, key: key}
}

func (d *S3Destination) String() string { return "s3://" + d.bucket + "/" + d.key }

// Write uploads data as the configured object key.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", d, err)
	}
	return nil
}
