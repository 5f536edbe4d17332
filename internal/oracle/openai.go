package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OpenAIClient implements Decision and Vision against any OpenAI-compatible
// chat-completions endpoint.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// OpenAIConfig holds configuration for the OpenAI-compatible client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig, logger *zap.Logger) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-5"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// chatMessage content is either a plain string or a part list when images
// are attached.
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *imageURLField `json:"image_url,omitempty"`
}

type imageURLField struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// complete sends one chat request and decodes the JSON answer into out.
func (c *OpenAIClient) complete(ctx context.Context, system string, user any, out any) error {
	if c.apiKey == "" {
		return Unavailablef("API key not configured")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Oracle request failed", zap.Error(err))
		return Unavailablef("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Unavailablef("failed to read response: %v", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Unavailablef("response not parseable: %v", err)
	}
	if parsed.Error != nil {
		c.logger.Warn("Oracle returned an API error",
			zap.String("type", parsed.Error.Type),
			zap.String("message", parsed.Error.Message))
		return Unavailablef("API error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return Unavailablef("unexpected status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return Unavailablef("empty response")
	}

	answer := parsed.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(extractJSON(answer)), out); err != nil {
		return Unavailablef("answer not parseable: %v", err)
	}
	return nil
}

// imageDataURL inlines a screenshot as a data URL content part.
func imageDataURL(path string) (*contentPart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	}
	url := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
	return &contentPart{Type: "image_url", ImageURL: &imageURLField{URL: url}}, nil
}

func (c *OpenAIClient) SummarizeSession(ctx context.Context, appName, actionLog string) (*SessionSummary, error) {
	var summary SessionSummary
	if err := c.complete(ctx, summarizeSystemPrompt, summarizePrompt(appName, actionLog), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *OpenAIClient) SelectNextAction(ctx context.Context, goal, stateDesc, history string) (*NextAction, error) {
	var action NextAction
	if err := c.complete(ctx, selectActionSystemPrompt, selectActionPrompt(goal, stateDesc, history), &action); err != nil {
		return nil, err
	}
	return &action, nil
}

func (c *OpenAIClient) VerifyStep(ctx context.Context, beforePath, afterPath, expectedChange string) (*StepJudgment, error) {
	before, err := imageDataURL(beforePath)
	if err != nil {
		return nil, Unavailablef("before screenshot unreadable: %v", err)
	}
	after, err := imageDataURL(afterPath)
	if err != nil {
		return nil, Unavailablef("after screenshot unreadable: %v", err)
	}

	user := []contentPart{
		{Type: "text", Text: verifyStepPrompt(expectedChange)},
		*before,
		*after,
	}

	var judgment StepJudgment
	if err := c.complete(ctx, verifyStepSystemPrompt, user, &judgment); err != nil {
		return nil, err
	}
	return &judgment, nil
}

func (c *OpenAIClient) CheckGoalAchieved(ctx context.Context, goal, stateDesc, history string) (*GoalJudgment, error) {
	var judgment GoalJudgment
	if err := c.complete(ctx, checkGoalSystemPrompt, checkGoalPrompt(goal, stateDesc, history), &judgment); err != nil {
		return nil, err
	}
	return &judgment, nil
}

func (c *OpenAIClient) EstimateTarget(ctx context.Context, screenshotPath, description string) (*Estimate, error) {
	img, err := imageDataURL(screenshotPath)
	if err != nil {
		return nil, Unavailablef("screenshot unreadable: %v", err)
	}
	user := []contentPart{
		{Type: "text", Text: visionPrompt(description)},
		*img,
	}

	var estimate Estimate
	if err := c.complete(ctx, visionSystemPrompt, user, &estimate); err != nil {
		return nil, err
	}
	return &estimate, nil
}
