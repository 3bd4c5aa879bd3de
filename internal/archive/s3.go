// Package archive stores the run log of every finished sync as a JSON object
// in an S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/crmsync/internal/models"
)

// PutObjectAPI is the part of the S3 client the reporter uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type S3Reporter struct {
	api    PutObjectAPI
	bucket string
	prefix string
}

func NewS3Reporter(api PutObjectAPI, bucket, prefix string) *S3Reporter {
	return &S3Reporter{api: api, bucket: bucket, prefix: prefix}
}

// NewS3ReporterFromOptions builds the S3 client. Static keys and a custom
// endpoint target MinIO and similar stores; without keys the default AWS
// credential chain is used.
func NewS3ReporterFromOptions(ctx context.Context, opts Options) (*S3Reporter, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Reporter(client, opts.Bucket, opts.Prefix), nil
}

// Key is the object key of a run log: <prefix>/<object type>/<yyyy>/<mm>/<dd>/<sync id>.json.
func (r *S3Reporter) Key(log *models.SyncLog) string {
	d := time.UnixMilli(log.StartedAt).UTC()
	return path.Join(r.prefix, log.ObjectType, d.Format("2006"), d.Format("01"), d.Format("02"), log.SyncID+".json")
}

func (r *S3Reporter) Report(ctx context.Context, log *models.SyncLog) error {
	body, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to encode sync log: %w", err)
	}
	_, err = r.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(r.Key(log)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"sync-status": string(log.Status),
			"sync-mode":   string(log.Mode),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload sync log %s: %w", log.SyncID, err)
	}
	return nil
}
