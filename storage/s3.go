// Package storage provides access to netatmo archive files in S3 and on
// the local file system.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/weatherlab/netatmo-etl/etl"
	"github.com/weatherlab/netatmo-etl/metrics"
)

// DefaultRegion is where the netatmo bucket lives.
const DefaultRegion = "eu-west-1"

// DefaultRetryDelay is the pause between retries of transient fetch errors.
const DefaultRetryDelay = 10 * time.Second

// S3API is the subset of the S3 client used here, to allow fakes.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Source fetches archive objects from an S3 bucket.  Credentials are
// resolved from the provider once per call.
type S3Source struct {
	Provider etl.CredentialsProvider
	// Region defaults to DefaultRegion.
	Region string
	// Prefix is prepended to every key, e.g. "data/".
	Prefix string
	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration

	// NewClient builds the S3 client for one call.  Tests override this.
	NewClient func(cfg aws.Config) S3API
}

// NewS3Source returns a source reading with the given provider in the
// default region.
func NewS3Source(provider etl.CredentialsProvider) *S3Source {
	return &S3Source{Provider: provider}
}

func (src *S3Source) client(ctx context.Context) (S3API, string, error) {
	creds, err := src.Provider.AWSKeys()
	if err != nil {
		return nil, "", fmt.Errorf("loading credentials: %w", err)
	}
	region := src.Region
	if region == "" {
		region = DefaultRegion
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKey, creds.SecretKey, "")),
	)
	if err != nil {
		return nil, "", err
	}
	if src.NewClient != nil {
		return src.NewClient(cfg), creds.Bucket, nil
	}
	return s3.NewFromConfig(cfg), creds.Bucket, nil
}

// Fetch downloads one object body.  Missing keys surface as
// etl.ErrNotFound and other store-side failures are returned as-is.
// Transient transport errors are retried internally until success, with a
// fixed delay between attempts.
func (src *S3Source) Fetch(ctx context.Context, key string) ([]byte, error) {
	client, bucket, err := src.client(ctx)
	if err != nil {
		return nil, err
	}
	delay := src.RetryDelay
	if delay == 0 {
		delay = DefaultRetryDelay
	}

	path := src.Prefix + key
	for {
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(path),
		})
		switch {
		case err == nil:
			data, err := io.ReadAll(out.Body)
			out.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", key, err)
			}
			return data, nil
		case isNotFound(err):
			return nil, fmt.Errorf("%w: %s", etl.ErrNotFound, key)
		case isTransient(ctx, err):
			log.Printf("ERROR transient failure fetching %s, trying again in %v: %v", key, delay, err)
			metrics.StoreRetryCount.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		default:
			return nil, fmt.Errorf("fetching %s: %w", key, err)
		}
	}
}

// Store uploads one object, used by the harvester to archive a snapshot.
func (src *S3Source) Store(ctx context.Context, key string, data []byte) error {
	client, bucket, err := src.client(ctx)
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(src.Prefix + key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}

// isTransient classifies connection, endpoint and timeout failures.  Any
// error without an API error code never reached the service, so it is
// worth retrying.  Context expiration is not.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr smithy.APIError
	return !errors.As(err, &apiErr)
}
