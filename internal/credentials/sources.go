package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrAccessDenied   = errors.New("access denied to secret")
)

// Static always returns the same token.
type Static struct {
	AccessToken string
}

func (s Static) Fetch(context.Context) (*Credential, error) {
	if s.AccessToken == "" {
		return nil, ErrNoToken
	}
	return &Credential{Token: s.AccessToken}, nil
}

// SecretsAPI is the part of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManager reads the token from an AWS Secrets Manager secret. The
// secret is either the bare token or a JSON document of the form
// {"access_token": "...", "expires_at": <epoch seconds>}.
type SecretsManager struct {
	api      SecretsAPI
	secretID string
}

func NewSecretsManager(api SecretsAPI, secretID string) *SecretsManager {
	return &SecretsManager{api: api, secretID: secretID}
}

// NewSecretsManagerFromEnv uses the default AWS credential chain.
func NewSecretsManagerFromEnv(ctx context.Context, region, secretID string) (*SecretsManager, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSecretsManager(secretsmanager.NewFromConfig(cfg), secretID), nil
}

type secretDocument struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

func (s *SecretsManager) Fetch(ctx context.Context) (*Credential, error) {
	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(s.secretID)})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "ResourceNotFoundException":
				return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, s.secretID)
			case "AccessDeniedException":
				return nil, fmt.Errorf("%w: %s", ErrAccessDenied, s.secretID)
			}
		}
		return nil, fmt.Errorf("failed to read secret %s: %w", s.secretID, err)
	}

	var raw string
	switch {
	case out.SecretString != nil:
		raw = *out.SecretString
	case out.SecretBinary != nil:
		raw = string(out.SecretBinary)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNoToken
	}

	if strings.HasPrefix(raw, "{") {
		var doc secretDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode secret %s: %w", s.secretID, err)
		}
		if doc.AccessToken == "" {
			return nil, ErrNoToken
		}
		cred := &Credential{Token: doc.AccessToken}
		if doc.ExpiresAt > 0 {
			cred.ExpiresAt = time.Unix(doc.ExpiresAt, 0)
		}
		return cred, nil
	}
	return &Credential{Token: raw}, nil
}
