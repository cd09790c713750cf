// Package aws defines functions used to interact with S3 compatible object
// storage. Cloudflare R2 works by setting an endpoint
package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Leave empty for AWS
	R2AccountID     string // Shortcut for Cloudflare R2, fills in Endpoint and Region
	AccessKeyID     string
	SecretAccessKey string
}

type S3Client struct {
	C        *s3.Client
	Bucket   *string
	Uploader *manager.Uploader
}

// NewS3 creates the client and makes sure the bucket exists
func NewS3(ctx context.Context, c Config) (*S3Client, error) {
	if c.Bucket == "" {
		return nil, errors.New("no bucket configured")
	}

	if c.Endpoint == "" && c.R2AccountID != "" {
		c.Endpoint = R2Endpoint(c.R2AccountID)
		c.Region = "auto"
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.AccessKeyID,
			c.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config, %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	bucket := aws.String(c.Bucket)

	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: bucket,
	})
	if err != nil {
		var apiErr smithy.APIError

		if errors.As(err, &apiErr) {
			if apiErr.ErrorCode() == "NotFound" {
				return nil, fmt.Errorf("bucket '%s' does not exist", c.Bucket)
			}
		}

		return nil, fmt.Errorf("failed to check if bucket exists, %w", err)
	}

	return &S3Client{
		C:      client,
		Bucket: bucket,
		Uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.Concurrency = 2
			u.PartSize = 6 << 20
		}),
	}, nil
}

// PutJSON marshals v and stores it under key
func (s *S3Client) PutJSON(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode object, %w", err)
	}

	_, err = s.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        s.Bucket,
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s, %w", key, err)
	}

	return nil
}

func R2Endpoint(accountID string) string {
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
}
