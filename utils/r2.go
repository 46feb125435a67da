// utils/r2.go
package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrSecretNotFound is returned when a secret has no value in its source.
var ErrSecretNotFound = errors.New("secret not found")

// SecretSource returns node credentials (macaroon, TLS cert, wallet
// password) by key.
type SecretSource interface {
	Secret(ctx context.Context, key string) ([]byte, error)
}

// R2Config points at the Cloudflare R2 bucket holding node credentials.
// Endpoint overrides the account endpoint (used by tests).
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Endpoint        string
}

// R2SecretStore reads secrets as objects from an R2 bucket.
type R2SecretStore struct {
	client *s3.Client
	bucket string
}

func NewR2SecretStore(ctx context.Context, cfg R2Config) (*R2SecretStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("R2 bucket name is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &R2SecretStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *R2SecretStore) Secret(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing interface{ ErrorCode() string }
		if errors.As(err, &missing) && (missing.ErrorCode() == "NoSuchKey" || missing.ErrorCode() == "NotFound") {
			return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return nil, fmt.Errorf("failed to read %s from R2: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s body: %w", key, err)
	}
	return data, nil
}

// EnvSecretSource reads secrets from environment variables. Key is mapped
// to the variable name through Vars; unmapped keys are looked up as is.
type EnvSecretSource struct {
	Vars map[string]string
}

func (s EnvSecretSource) Secret(_ context.Context, key string) ([]byte, error) {
	name := key
	if v, ok := s.Vars[key]; ok {
		name = v
	}
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return []byte(val), nil
}

// StaticSecretSource serves fixed values.
type StaticSecretSource map[string][]byte

func (s StaticSecretSource) Secret(_ context.Context, key string) ([]byte, error) {
	v, ok := s[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return v, nil
}
