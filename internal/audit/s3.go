package audit

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const s3EmitTimeout = 10 * time.Second

// S3Sink writes each event as one JSON object under
// <prefix><yyyymmdd>/<uuid>.json.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Sink builds an S3-backed sink using the ambient AWS credential
// chain.
func NewS3Sink(ctx context.Context, bucket, prefix, region string) (*S3Sink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 audit sink requires a bucket")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &S3Sink{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

func (s *S3Sink) Emit(event Event) error {
	encoded, err := encodeEvent(event)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s%s/%s.json", s.prefix, s.now().UTC().Format("20060102"), uuid.NewString())

	ctx, cancel := context.WithTimeout(context.Background(), s3EmitTimeout)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(encoded),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put audit object: %w", err)
	}
	return nil
}
