package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

const ssmPrefix = "ssm:"

// ssmAPI is the subset of *ssm.Client used to resolve secrets.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SecretGetter resolves a parameter name to its value.
type SecretGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ParamStore reads SecureString parameters from AWS SSM.
type ParamStore struct {
	api ssmAPI
}

// NewParamStore wraps an SSM client.
func NewParamStore(api ssmAPI) (*ParamStore, error) {
	if api == nil {
		return nil, errors.New("config: ssm api must not be nil")
	}
	return &ParamStore{api: api}, nil
}

// GetParameter fetches and decrypts a single parameter.
func (p *ParamStore) GetParameter(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("config: parameter name is required")
	}
	withDecryption := true
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		return "", fmt.Errorf("config: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("config: parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// ResolveSecrets replaces "ssm:/path" values on secret-bearing fields with the
// parameter value. Plain values are left untouched.
func (c *Config) ResolveSecrets(ctx context.Context, getter SecretGetter) error {
	if c == nil || getter == nil {
		return nil
	}
	fields := []*string{
		&c.DatabaseURL,
		&c.RedisPassword,
		&c.TelnyxAPIKey,
		&c.TelnyxWebhookSecret,
		&c.GoogleCredentialsJSON,
		&c.GeminiAPIKey,
		&c.AdminJWTSecret,
		&c.SendGridAPIKey,
	}
	for _, field := range fields {
		if !strings.HasPrefix(*field, ssmPrefix) {
			continue
		}
		value, err := getter.GetParameter(ctx, strings.TrimPrefix(*field, ssmPrefix))
		if err != nil {
			return err
		}
		*field = value
	}
	return nil
}
