package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"BillsAnalyzer/internal/config"
	"BillsAnalyzer/internal/domain"
	"BillsAnalyzer/internal/ports"
)

const defaultSystemPrompt = `You are a free-market economist reviewing United States legislation.
Judge each measure by its effect on economic freedom and market efficiency, on the size and reach of
government, on taxpayers and the federal budget, and on individual liberty and property rights.
Be skeptical of intervention but stay concrete and evidence-based.`

const responseContract = `Respond with a single JSON object with exactly these keys:
"summary" (2-3 sentences), "perspective" (the free-market reading of the measure),
"key_points" (array of short strings), "estimated_cost_impact", "government_growth_analysis",
"market_impact_analysis", "liberty_impact_analysis".`

// Perspective labels analyses whose model output omits one.
const Perspective = "free-market"

// OpenAIAnalyzer implements ports.Analyzer backed by an OpenAI-compatible chat completion API in JSON mode.
type OpenAIAnalyzer struct {
	endpoint     string
	model        string
	apiKey       string
	maxTokens    int
	temperature  float64
	systemPrompt string
	httpClient   *http.Client
}

var _ ports.Analyzer = (*OpenAIAnalyzer)(nil)

// NewOpenAIAnalyzer builds an analyzer from configuration. Per-call deadlines come from the caller's context.
func NewOpenAIAnalyzer(cfg config.OpenAIConfig, httpClient *http.Client) *OpenAIAnalyzer {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &OpenAIAnalyzer{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		systemPrompt: cfg.SystemPrompt,
		httpClient:   httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Analyze sends the denormalized target text and decodes the JSON analysis.
func (c *OpenAIAnalyzer) Analyze(ctx context.Context, input domain.AnalysisInput) (domain.Analysis, error) {
	const op = "openai.Analyze"

	if c == nil || c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return domain.Analysis{}, domain.NewTargetError(domain.KindPermanentAnalysis, op, input.Target,
			errors.New("openai analyzer misconfigured"))
	}
	if strings.TrimSpace(input.Text) == "" {
		return domain.Analysis{}, domain.NewTargetError(domain.KindPermanentAnalysis, op, input.Target,
			errors.New("no content to analyze"))
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: safePrompt(c.systemPrompt) + "\n\n" + responseContract},
			{Role: "user", Content: userPrompt(input)},
		},
		MaxTokens:      c.maxTokens,
		Temperature:    c.temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return domain.Analysis{}, domain.NewTargetError(domain.KindPermanentAnalysis, op, input.Target,
			fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Analysis{}, domain.NewTargetError(domain.KindPermanentAnalysis, op, input.Target,
			fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// timeouts and resets are worth another attempt
		return domain.Analysis{}, domain.NewTargetError(domain.KindTransientAnalysis, op, input.Target,
			fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Analysis{}, domain.NewTargetError(classifyStatus(resp.StatusCode), op, input.Target,
			fmt.Errorf("openai error %s: %s", resp.Status, strings.TrimSpace(string(payload))))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Analysis{}, domain.NewTargetError(domain.KindTransientAnalysis, op, input.Target,
			fmt.Errorf("decode response: %w", err))
	}

	analysis, err := parseAnalysis(decoded)
	if err != nil {
		return domain.Analysis{}, domain.NewTargetError(domain.KindTransientAnalysis, op, input.Target, err)
	}
	return analysis, nil
}

func parseAnalysis(resp chatResponse) (domain.Analysis, error) {
	if len(resp.Choices) == 0 {
		return domain.Analysis{}, errors.New("no choices in response")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return domain.Analysis{}, errors.New("empty completion")
	}

	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(content), &analysis); err != nil {
		return domain.Analysis{}, fmt.Errorf("completion is not the expected JSON: %w", err)
	}
	if strings.TrimSpace(analysis.Perspective) == "" {
		analysis.Perspective = Perspective
	}
	if analysis.KeyPoints == nil {
		analysis.KeyPoints = []string{}
	}
	if err := analysis.Validate(); err != nil {
		return domain.Analysis{}, fmt.Errorf("incomplete analysis: %w", err)
	}
	return analysis, nil
}

func classifyStatus(code int) domain.ErrorKind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return domain.KindTransientAnalysis
	default:
		return domain.KindPermanentAnalysis
	}
}

func userPrompt(input domain.AnalysisInput) string {
	return "Analyze the following legislation.\n\n" + input.Text
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return defaultSystemPrompt
	}
	return prompt
}
