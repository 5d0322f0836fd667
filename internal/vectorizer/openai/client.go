// Package openai implements the vectorizer against the OpenAI embeddings
// API (or any compatible endpoint).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/examarchive/paperingest/internal/vectorizer"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config controls the embeddings client.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
}

// Client calls the embeddings endpoint over plain HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New creates an embeddings client. Model and APIKey are required;
// Dimensions defaults to 1536 (text-embedding-3-small).
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Model reports the configured model tag persisted next to vectors.
func (c *Client) Model() string { return c.cfg.Model }

// Dimensions implements vectorizer.Vectorizer.
func (c *Client) Dimensions() int { return c.cfg.Dimensions }

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed implements vectorizer.Vectorizer.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, &vectorizer.InvalidInputError{Reason: "empty text"}
	}

	payload, err := json.Marshal(embeddingRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embeddings endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, vectorizer.ErrRateLimited
	case resp.StatusCode == http.StatusBadRequest:
		return nil, &vectorizer.InvalidInputError{Reason: apiMessage(body)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, apiMessage(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("embeddings response carried no data")
	}
	vector := parsed.Data[0].Embedding
	if len(vector) != c.cfg.Dimensions {
		return nil, fmt.Errorf("embeddings response has %d dimensions, want %d", len(vector), c.cfg.Dimensions)
	}
	return vector, nil
}

func apiMessage(body []byte) string {
	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	return string(body)
}
