package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	appconfig "github.com/wolfman30/dental-booking-platform/internal/config"
)

// Load reads .env (when present) and the environment, loads the AWS SDK
// config and resolves ssm:-prefixed secrets. Every binary starts here.
func Load(ctx context.Context) (*appconfig.Config, aws.Config, error) {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()

	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	params, err := appconfig.NewParamStore(ssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, aws.Config{}, err
	}
	if err := cfg.ResolveSecrets(ctx, params); err != nil {
		return nil, aws.Config{}, fmt.Errorf("resolve secrets: %w", err)
	}
	return cfg, awsCfg, nil
}

// LoadAWSConfig centralizes AWS SDK initialization so every binary shares the
// same LocalStack/production wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}

	if endpoint := cfg.AWSEndpointOverride; endpoint != "" {
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				switch service {
				case sqs.ServiceID, ssm.ServiceID, sesv2.ServiceID:
					return aws.Endpoint{
						URL:           endpoint,
						PartitionID:   "aws",
						SigningRegion: cfg.AWSRegion,
					}, nil
				default:
					return aws.Endpoint{}, &aws.EndpointNotFoundError{}
				}
			},
		)
	}

	return awsCfg, nil
}
