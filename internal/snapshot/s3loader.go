// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Loader reads a snapshot from an S3-compatible object store, used when
// the configured dbfilename resolves to an "s3://bucket/key" URL instead of
// a local path.
type S3Loader struct {
	Bucket string
	Key    string
	client *s3.Client
}

// NewS3Loader builds a loader against the default AWS credential chain
// (environment, shared config, instance role), the same resolution order
// LoadDefaultConfig applies everywhere else in the ecosystem this package
// borrows from.
func NewS3Loader(ctx context.Context, bucket, key string) (*S3Loader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: load AWS config: %w", err)
	}
	return &S3Loader{Bucket: bucket, Key: key, client: s3.NewFromConfig(cfg)}, nil
}

func (l *S3Loader) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.Bucket),
		Key:    aws.String(l.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: get s3://%s/%s: %w", l.Bucket, l.Key, err)
	}
	return out.Body, nil
}

// ParseS3URL splits "s3://bucket/key" into its bucket and key, reporting ok
// false for anything else (a plain local path).
func ParseS3URL(s string) (bucket, key string, ok bool) {
	const prefix = "s3://"
	if !strings.HasPrefix(s, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(s, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
