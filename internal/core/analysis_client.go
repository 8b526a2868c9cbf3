package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	applog "amigo.app/meal-ledger/internal/log"
)

const (
	DefaultAnalysisModel = "gemini-1.5-flash-latest"

	nutritionPrompt = "Analyze this meal image and provide nutritional estimates in JSON format. " +
		"Return ONLY a valid JSON object with the following structure (no markdown, no code blocks, just pure JSON): " +
		`{"calories": <integer>, "protein": <number in grams>, "carbs": <number in grams>, "fat": <number in grams>}. ` +
		"Be realistic in your estimates. If you cannot identify the food clearly, provide your best estimate."
)

// contentGenerator is the part of *genai.GenerativeModel the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// AnalysisClient turns a meal photo into NutritionData with one Gemini call.
type AnalysisClient struct {
	client  *genai.Client
	model   contentGenerator
	timeout time.Duration
	logger  *applog.Logger
}

// NewAnalysisClient builds the Gemini client. An empty apiKey is not an
// error: the client is created unconfigured and every Analyze call reports
// MissingCredential without touching the network.
func NewAnalysisClient(ctx context.Context, apiKey, modelName string, timeout time.Duration, logger *applog.Logger) (*AnalysisClient, error) {
	logger = logger.WithComponent(applog.ComponentAnalysis)
	c := &AnalysisClient{timeout: timeout, logger: logger}

	if apiKey == "" {
		logger.Warn("GEMINI_API_KEY not set, meal analysis is disabled")
		return c, nil
	}
	if modelName == "" {
		modelName = DefaultAnalysisModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	temp := float32(0.2)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	}

	c.client = client
	c.model = model
	return c, nil
}

func newAnalysisClientWith(model contentGenerator, timeout time.Duration, logger *applog.Logger) *AnalysisClient {
	return &AnalysisClient{model: model, timeout: timeout, logger: logger}
}

func (c *AnalysisClient) Close() {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			c.logger.Error("Error closing GenAI client", applog.FieldError, err)
		} else {
			c.logger.Info("GenAI client closed")
		}
	}
}

// Analyze compresses image, sends it with the nutrition prompt and parses the
// reply. Exactly one remote call is made; failures are *AnalysisError values
// (or ErrInvalidImage for undecodable input).
func (c *AnalysisClient) Analyze(ctx context.Context, image []byte) (NutritionData, error) {
	if c.model == nil {
		return NutritionData{}, &AnalysisError{Kind: MissingCredential, Detail: "GEMINI_API_KEY is not configured"}
	}

	jpegBytes, err := CompressImage(image)
	if err != nil {
		return NutritionData{}, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, genai.ImageData("jpeg", jpegBytes), genai.Text(nutritionPrompt))
	if err != nil {
		c.logger.WarnContext(ctx, "Gemini request failed",
			applog.FieldOperation, applog.OpAnalyze, applog.FieldError, err, applog.FieldDuration, time.Since(start).Milliseconds())
		return NutritionData{}, &AnalysisError{Kind: TransportError, Detail: "gemini generate content", Err: err}
	}

	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return NutritionData{}, &AnalysisError{Kind: EmptyResponse, Detail: "gemini returned no text"}
	}

	data, err := ParseNutrition(text)
	if err != nil {
		c.logger.WarnContext(ctx, "Unparseable nutrition response",
			applog.FieldOperation, applog.OpAnalyze, applog.FieldError, err, "response", truncate(text, 200))
		return NutritionData{}, err
	}

	c.logger.InfoContext(ctx, "Meal analyzed",
		applog.FieldOperation, applog.OpAnalyze, applog.FieldCalories, data.Calories, applog.FieldDuration, time.Since(start).Milliseconds())
	return data, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
