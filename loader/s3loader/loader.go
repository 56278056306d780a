// Package s3loader serves addressable references from an S3 bucket.
package s3loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-datastore/pkg/errdefs"
	"github.com/goliatone/go-datastore/pkg/reference"
)

// ObjectGetter is the subset of the S3 client the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Config locates objects in a bucket.
type Config struct {
	Bucket  string
	Region  string
	Prefix  string
	Profile string
}

// DecodeFunc turns an object body into a handle.
type DecodeFunc func(key, contentType string, body []byte) (any, error)

// Loader implements reference.AsyncLoader. Each load runs on its own
// goroutine and completes the returned Future.
type Loader struct {
	client ObjectGetter
	bucket string
	prefix string
	decode DecodeFunc
	logger zerolog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithDecoder replaces the default body decoder.
func WithDecoder(decode DecodeFunc) Option {
	return func(l *Loader) {
		if decode != nil {
			l.decode = decode
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// New creates a loader over client.
func New(client ObjectGetter, cfg Config, opts ...Option) (*Loader, error) {
	if client == nil {
		return nil, errdefs.InvalidArgument("s3 loader requires a client")
	}
	if cfg.Bucket == "" {
		return nil, errdefs.InvalidArgument("s3 loader requires a bucket")
	}
	l := &Loader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		decode: DecodeByExtension,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// NewFromConfig loads the default AWS configuration for cfg.Region and
// cfg.Profile and creates a loader over an S3 client.
func NewFromConfig(ctx context.Context, cfg Config, opts ...Option) (*Loader, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return New(s3.NewFromConfig(awsCfg), cfg, opts...)
}

// ObjectKey returns the bucket key addressed by key.
func (l *Loader) ObjectKey(key string) string {
	if l.prefix == "" {
		return key
	}
	return path.Join(l.prefix, key)
}

// LoadByKeyAsync implements reference.AsyncLoader.
func (l *Loader) LoadByKeyAsync(ctx context.Context, key string) reference.Future {
	return reference.NewFuture(func() (any, error) {
		return l.Fetch(ctx, key)
	})
}

// Fetch downloads and decodes the object addressed by key. A missing object
// yields a nil handle and a nil error.
func (l *Loader) Fetch(ctx context.Context, key string) (any, error) {
	objectKey := l.ObjectKey(key)
	result, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			l.logger.Debug().Str("bucket", l.bucket).Str("key", objectKey).Msg("object not found")
			return nil, nil
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", l.bucket, objectKey, err)
	}
	defer result.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(result.Body); err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", l.bucket, objectKey, err)
	}

	handle, err := l.decode(objectKey, aws.ToString(result.ContentType), buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decode s3://%s/%s: %w", l.bucket, objectKey, err)
	}
	l.logger.Debug().
		Str("bucket", l.bucket).
		Str("key", objectKey).
		Int("bytes", buf.Len()).
		Msg("object loaded")
	return handle, nil
}

// DecodeByExtension decodes JSON and YAML objects into generic trees and
// returns every other body as raw bytes.
func DecodeByExtension(key, contentType string, body []byte) (any, error) {
	ext := strings.ToLower(path.Ext(key))
	switch {
	case ext == ".json" || strings.HasPrefix(contentType, "application/json"):
		var out any
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	case ext == ".yaml" || ext == ".yml" || strings.Contains(contentType, "yaml"):
		var out any
		if err := yaml.Unmarshal(body, &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return body, nil
	}
}

var _ reference.AsyncLoader = (*Loader)(nil)
