// Copyright (c) 2026 Classgram Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/classgram/ingestion/internal/config"
)

// ObjectAPI is the subset of the S3 client used by the uploader.
// Mocked in tests.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Uploader writes objects to an S3-compatible store. The bucket is
// provisioned on first use if missing; uploads never overwrite an
// existing object.
type S3Uploader struct {
	client ObjectAPI
	bucket string
}

// NewS3Uploader builds the uploader from storage configuration. Static
// credentials are used when configured, otherwise the SDK's default
// provider chain applies.
func NewS3Uploader(ctx context.Context, cfg config.Storage) (*S3Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// Custom endpoints (MinIO et al.) need path-style addressing.
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Uploader{client: client, bucket: cfg.Bucket}, nil
}

// NewS3UploaderWithClient creates an uploader with a custom client,
// used for testing.
func NewS3UploaderWithClient(client ObjectAPI, bucket string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket}
}

// Put uploads one object. If-None-Match makes the write append-only: a
// concurrent upload to the same content-hashed key loses the race but
// the object holds the identical bytes, so that outcome counts as
// success.
func (u *S3Uploader) Put(ctx context.Context, key string, data []byte, contentType string) error {
	err := u.putOnce(ctx, key, data, contentType)
	if err == nil {
		return nil
	}

	if !isNoSuchBucket(err) {
		if isPreconditionFailed(err) {
			slog.Debug("object already present, keeping existing", "key", key)
			return nil
		}
		return err
	}

	// First use against a fresh deployment — provision the bucket, then retry.
	slog.Info("creating attachment bucket", "bucket", u.bucket)
	if _, err := u.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(u.bucket),
	}); err != nil && !isBucketAlreadyOwned(err) {
		return fmt.Errorf("provision bucket %s: %w", u.bucket, err)
	}

	return u.putOnce(ctx, key, data, contentType)
}

func (u *S3Uploader) putOnce(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		IfNoneMatch: aws.String("*"),
	})
	return err
}

func isNoSuchBucket(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchBucket"
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed"
}

// isBucketAlreadyOwned covers the race where another replica provisions
// the bucket first.
func isBucketAlreadyOwned(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	return code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists"
}
