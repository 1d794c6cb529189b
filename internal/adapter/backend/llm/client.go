// Package llm is the Anthropic-backed decision backend. Each Decide
// call sends one observation as a prompt and parses the reply into an
// intent. The dispatcher owns timeouts, retries, and the fallback, so
// the client fails fast and loud instead of papering over bad replies.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vivarium/internal/domain/decision"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1/messages"
	apiVersion     = "2023-06-01"
	defaultModel   = "claude-haiku-4-5-20251001"

	defaultMaxTokens = 300
	requestTimeout   = 30 * time.Second
)

type Config struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

type Backend struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Backend {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		log:    log,
	}
}

func (b *Backend) Name() string { return "llm" }

func (b *Backend) IsAvailable(context.Context) bool {
	return b.cfg.APIKey != ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type apiResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (b *Backend) Decide(ctx context.Context, obs decision.Observation) (decision.Intent, error) {
	if !b.IsAvailable(ctx) {
		return decision.Intent{}, fmt.Errorf("llm backend: no api key configured")
	}

	text, err := b.complete(ctx, systemPrompt(obs), userPrompt(obs))
	if err != nil {
		return decision.Intent{}, err
	}

	intent, err := parseIntent(text)
	if err != nil {
		b.log.Warn("llm reply rejected",
			zap.String("agent_id", obs.AgentID),
			zap.Int64("tick", obs.Tick),
			zap.Error(err))
		return decision.Intent{}, err
	}
	return intent, nil
}

func (b *Backend) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(apiRequest{
		Model:     b.cfg.Model,
		MaxTokens: b.cfg.MaxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", b.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm call: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm api error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("empty llm response")
	}

	b.log.Debug("llm call",
		zap.Int("input_tokens", parsed.Usage.InputTokens),
		zap.Int("output_tokens", parsed.Usage.OutputTokens))

	return parsed.Content[0].Text, nil
}
