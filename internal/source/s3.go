package source

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3GetAPI is the part of the S3 client used to read an export.
type S3GetAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// OpenS3 streams s3://bucket/key as JSON lines.
func OpenS3(ctx context.Context, client S3GetAPI, bucket, key, defaultStream string, maxBatch int) (*JSONLSource, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	return NewJSONLSource(out.Body, defaultStream, maxBatch), nil
}
