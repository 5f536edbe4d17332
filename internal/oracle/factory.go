package oracle

import (
	"context"

	"go.uber.org/zap"

	"deskflow/internal/config"
)

// Client bundles the decision and vision capabilities one provider serves.
type Client interface {
	Decision
	Vision
}

// NewFromConfig builds the oracle client the configuration selects. When no
// provider is configured the returned client reports Unavailable on every
// call, so the pipeline degrades instead of failing hard.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Client, error) {
	switch cfg.Oracle.Provider {
	case "gemini":
		return NewGeminiClient(ctx, cfg.Oracle.GeminiAPIKey, cfg.Oracle.GeminiModel, logger)
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.Oracle.OpenAIAPIKey,
			BaseURL: cfg.Oracle.BaseURL,
			Model:   cfg.Oracle.OpenAIModel,
			Timeout: cfg.OracleTimeout(),
		}, logger), nil
	default:
		logger.Warn("No oracle provider configured, decisions will be unavailable")
		return unavailableClient{}, nil
	}
}

// unavailableClient is the null provider.
type unavailableClient struct{}

func (unavailableClient) SummarizeSession(context.Context, string, string) (*SessionSummary, error) {
	return nil, Unavailablef("no provider configured")
}

func (unavailableClient) SelectNextAction(context.Context, string, string, string) (*NextAction, error) {
	return nil, Unavailablef("no provider configured")
}

func (unavailableClient) VerifyStep(context.Context, string, string, string) (*StepJudgment, error) {
	return nil, Unavailablef("no provider configured")
}

func (unavailableClient) CheckGoalAchieved(context.Context, string, string, string) (*GoalJudgment, error) {
	return nil, Unavailablef("no provider configured")
}

func (unavailableClient) EstimateTarget(context.Context, string, string) (*Estimate, error) {
	return nil, Unavailablef("no provider configured")
}
