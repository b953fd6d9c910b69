// Package storage holds the AWS-backed pieces of a sync run: the client
// bundle shared by the checkpoint store and the S3 run archive.
package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// AWSConfig selects the account and region the clients talk to.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`

	// Static keys, mostly for local stacks; the default chain is used when empty.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// Endpoint overrides the service endpoint (LocalStack, MinIO).
	Endpoint string `yaml:"endpoint"`
}

// AWS bundles the service clients built from one configuration.
type AWS struct {
	DynamoDB *dynamodb.Client
	S3       *s3.Client
	Region   string
}

// NewAWS loads AWS configuration and creates the clients.
func NewAWS(ctx context.Context, cfg AWSConfig) (*AWS, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &AWS{
		DynamoDB: dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		}),
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
				o.UsePathStyle = true
			}
		}),
		Region: cfg.Region,
	}, nil
}
