package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient implements Decision and Vision on top of the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiClient creates a Gemini-backed oracle client.
func NewGeminiClient(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model, logger: logger}, nil
}

// generate runs one text-only request and decodes the JSON answer into out.
// Transport and parse failures both surface as Unavailable: the caller
// asked for a judgment and did not get one.
func (g *GeminiClient) generate(ctx context.Context, system, prompt string, out any) error {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	return g.generateContents(ctx, system, contents, out)
}

func (g *GeminiClient) generateContents(ctx context.Context, system string, contents []*genai.Content, out any) error {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		g.logger.Warn("Gemini request failed", zap.Error(err))
		return Unavailablef("gemini request failed: %v", err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return Unavailablef("gemini returned an empty response")
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), out); err != nil {
		g.logger.Warn("Gemini returned unparseable JSON", zap.Error(err))
		return Unavailablef("gemini response not parseable: %v", err)
	}
	return nil
}

// imagePart loads a screenshot from disk as an inline image part.
func imagePart(path string) (*genai.Part, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	}
	return genai.NewPartFromBytes(data, mime), nil
}

func (g *GeminiClient) SummarizeSession(ctx context.Context, appName, actionLog string) (*SessionSummary, error) {
	var summary SessionSummary
	if err := g.generate(ctx, summarizeSystemPrompt, summarizePrompt(appName, actionLog), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (g *GeminiClient) SelectNextAction(ctx context.Context, goal, stateDesc, history string) (*NextAction, error) {
	var action NextAction
	if err := g.generate(ctx, selectActionSystemPrompt, selectActionPrompt(goal, stateDesc, history), &action); err != nil {
		return nil, err
	}
	return &action, nil
}

func (g *GeminiClient) VerifyStep(ctx context.Context, beforePath, afterPath, expectedChange string) (*StepJudgment, error) {
	before, err := imagePart(beforePath)
	if err != nil {
		return nil, Unavailablef("before screenshot unreadable: %v", err)
	}
	after, err := imagePart(afterPath)
	if err != nil {
		return nil, Unavailablef("after screenshot unreadable: %v", err)
	}

	parts := []*genai.Part{
		genai.NewPartFromText(verifyStepPrompt(expectedChange)),
		before,
		after,
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	var judgment StepJudgment
	if err := g.generateContents(ctx, verifyStepSystemPrompt, contents, &judgment); err != nil {
		return nil, err
	}
	return &judgment, nil
}

func (g *GeminiClient) CheckGoalAchieved(ctx context.Context, goal, stateDesc, history string) (*GoalJudgment, error) {
	var judgment GoalJudgment
	if err := g.generate(ctx, checkGoalSystemPrompt, checkGoalPrompt(goal, stateDesc, history), &judgment); err != nil {
		return nil, err
	}
	return &judgment, nil
}

func (g *GeminiClient) EstimateTarget(ctx context.Context, screenshotPath, description string) (*Estimate, error) {
	img, err := imagePart(screenshotPath)
	if err != nil {
		return nil, Unavailablef("screenshot unreadable: %v", err)
	}
	parts := []*genai.Part{
		genai.NewPartFromText(visionPrompt(description)),
		img,
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	var estimate Estimate
	if err := g.generateContents(ctx, visionSystemPrompt, contents, &estimate); err != nil {
		return nil, err
	}
	return &estimate, nil
}
