// vaultkeeper - enterprise backup and disaster-recovery engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultkeeper/engine

package storage

import (
	"context"
	"errors"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/vaultkeeper/engine/internal/logging"
)

// S3CompatConfig configures one S3-compatible object store. §4.2 names
// two concrete providers with different endpoint-URL conventions (R2:
// https://{account}.<domain>, region "auto"; B2: https://s3.{region}.
// <domain>) but both speak the same S3 API, so one implementation serves
// both — only the Config differs per instance.
type S3CompatConfig struct {
	Name            string // symbolic name, e.g. "r2", "b2"; uploads are tagged origin=vaultkeeper regardless
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RatePerSecond   float64
}

// S3Compat is a Backend implementation for any S3 API compatible object
// store, wrapped in a circuit breaker and rate limiter so a remote outage
// degrades to logged failures rather than hanging the pipeline.
type S3Compat struct {
	name    string
	bucket  string
	client  *s3.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter
}

// NewS3Compat builds a Backend talking to one S3-compatible provider.
func NewS3Compat(cfg S3CompatConfig) (*S3Compat, error) {
	if cfg.Bucket == "" || cfg.Endpoint == "" {
		return nil, errors.New("s3compat: bucket and endpoint are required")
	}
	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	client := s3.New(s3.Options{
		Region:       orDefault(cfg.Region, "auto"),
		Credentials:  creds,
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &S3Compat{
		name:    cfg.Name,
		bucket:  cfg.Bucket,
		client:  client,
		breaker: newCircuitBreaker(DefaultCircuitBreakerConfig(cfg.Name)),
		limiter: newLimiter(cfg.RatePerSecond, 0),
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (s *S3Compat) Name() string { return s.name }

func (s *S3Compat) Upload(ctx context.Context, localPath, remotePath string) error {
	err := s.guarded(ctx, func() error {
		f, err := os.Open(localPath) //nolint:gosec // caller-controlled backup paths
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(remotePath),
			Body:   f,
			Metadata: map[string]string{
				"origin": "vaultkeeper",
			},
		})
		return err
	})
	s.log("upload", remotePath, err)
	return err
}

func (s *S3Compat) Download(ctx context.Context, remotePath, localPath string) error {
	err := s.guarded(ctx, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(remotePath),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()

		f, err := os.Create(localPath) //nolint:gosec // caller-controlled backup paths
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.ReadFrom(out.Body)
		return err
	})
	s.log("download", remotePath, err)
	return err
}

func (s *S3Compat) Exists(ctx context.Context, remotePath string) (bool, error) {
	var exists bool
	err := s.guarded(ctx, func() error {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(remotePath),
		})
		if err != nil {
			if isNotFound(err) {
				exists = false
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (s *S3Compat) Delete(ctx context.Context, remotePath string) error {
	err := s.guarded(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(remotePath),
		})
		// Deleting an absent key is success — S3 DeleteObject already
		// returns 204 for a missing key, so no special-casing needed.
		return err
	})
	s.log("delete", remotePath, err)
	return err
}

func (s *S3Compat) GetSize(ctx context.Context, remotePath string) (int64, bool, error) {
	var size int64
	var ok bool
	err := s.guarded(ctx, func() error {
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(remotePath),
		})
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if head.ContentLength != nil {
			size = *head.ContentLength
			ok = true
		}
		return nil
	})
	return size, ok, err
}

// GetStorageUsage for an S3-compatible backend requires a bucket-level
// listing plus a provider-specific quota API; neither is part of the
// portable S3 surface, so this reports absent rather than guessing.
func (s *S3Compat) GetStorageUsage(_ context.Context) (Usage, bool, error) {
	return Usage{}, false, nil
}

func (s *S3Compat) guarded(ctx context.Context, fn func() error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return execute(s.breaker, fn)
}

func (s *S3Compat) log(op, remotePath string, err error) {
	l := logging.WithComponent("storage." + s.name)
	if err != nil {
		l.Warn().Err(err).Str("op", op).Str("remote_path", remotePath).Msg("operation failed")
		return
	}
	l.Info().Str("op", op).Str("remote_path", remotePath).Msg("operation succeeded")
}

func isNotFound(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}
