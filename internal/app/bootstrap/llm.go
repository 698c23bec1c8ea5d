package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/dental-booking-platform/internal/config"
	"github.com/wolfman30/dental-booking-platform/internal/conversation"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

const (
	ProviderGemini  = "gemini"
	ProviderBedrock = "bedrock"
)

// BuildLLMClient returns the configured provider, wrapped with the other
// provider as fallback when both are configured.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.LLMClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	var gemini, bedrock conversation.LLMClient
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		gemini = client
	}
	if strings.TrimSpace(cfg.BedrockModelID) != "" {
		bedrock = conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
	}

	var primary, fallback conversation.LLMClient
	switch cfg.LLMProvider {
	case ProviderGemini, "":
		primary, fallback = gemini, bedrock
	case ProviderBedrock:
		primary, fallback = bedrock, gemini
	default:
		return nil, fmt.Errorf("bootstrap: unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
	if primary == nil {
		return nil, fmt.Errorf("bootstrap: LLM provider %q is not configured", cfg.LLMProvider)
	}
	logger.Info("llm configured", "provider", cfg.LLMProvider, "fallback", fallback != nil)
	if fallback == nil {
		return primary, nil
	}
	return conversation.NewFallbackLLMClient(primary, fallback, logger), nil
}
