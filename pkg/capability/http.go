package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kkkaaai/blockforge/internal/config"
	"github.com/kkkaaai/blockforge/pkg/models"
)

// HTTPCapability talks to a single configured endpoint over plain JSON
// HTTP rather than through a vendor SDK —
// spec.md §6 is explicit that the core must stay vendor-agnostic, so
// this implementation talks to
// exactly one endpoint shape and lets deployment config point it at
// whatever OpenAI-compatible or custom service backs it.
type HTTPCapability struct {
	endpoint   string
	apiKey     string
	model      string
	embedModel string
	client     *http.Client
}

// New builds an HTTPCapability from LLMConfig.
func New(cfg config.LLMConfig) *HTTPCapability {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPCapability{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
		client:     &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model    string  `json:"model"`
	System   string  `json:"system,omitempty"`
	Prompt   string  `json:"prompt"`
	Deadline float64 `json:"deadline_seconds,omitempty"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate implements Capability.
func (c *HTTPCapability) Generate(ctx context.Context, req models.CapabilityRequest) (*models.CapabilityResponse, error) {
	if req.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Deadline)
		defer cancel()
	}

	body := generateRequest{
		Model:    c.model,
		System:   req.System,
		Prompt:   req.User,
		Deadline: req.Deadline.Seconds(),
	}
	var out generateResponse
	if err := c.post(ctx, "/generate", body, &out); err != nil {
		return nil, err
	}

	return &models.CapabilityResponse{
		Text:         out.Text,
		PromptTokens: out.Usage.PromptTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Vector []float32 `json:"vector"`
}

// Embed implements Capability.
func (c *HTTPCapability) Embed(ctx context.Context, text string) (models.EmbeddingVector, error) {
	body := embedRequest{Model: c.embedModel, Input: text}
	var out embedResponse
	if err := c.post(ctx, "/embeddings", body, &out); err != nil {
		return nil, err
	}
	return models.EmbeddingVector(out.Vector), nil
}

func (c *HTTPCapability) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("capability: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("capability: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("capability: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("capability: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("capability: endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("capability: parse response: %w", err)
	}
	return nil
}
