package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultOpenAIModel is the embedding model requested when none is configured.
	DefaultOpenAIModel = string(openai.SmallEmbedding3)
	// DefaultBatchSize bounds the number of texts per embeddings request.
	DefaultBatchSize = 64
)

// OpenAIConfig configures an OpenAIEncoder. BaseURL may point at any
// OpenAI-compatible embeddings server.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	BatchSize  int
	HTTPClient *http.Client
}

// OpenAIEncoder calls the embeddings endpoint of an OpenAI-compatible API.
type OpenAIEncoder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	batchSize int
}

// NewOpenAIEncoder builds an encoder from cfg.
func NewOpenAIEncoder(cfg OpenAIConfig) (*OpenAIEncoder, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai embedding requires an api key or base url")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &OpenAIEncoder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     openai.EmbeddingModel(model),
		batchSize: batch,
	}, nil
}

// Model returns the configured embedding model name.
func (e *OpenAIEncoder) Model() string { return string(e.model) }

// Encode implements Encoder, splitting texts into batches.
func (e *OpenAIEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	result := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: batch,
			Model: e.model,
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				return nil, fmt.Errorf("embed batch [%d:%d]: index %d out of range", start, end, d.Index)
			}
			result[start+d.Index] = d.Embedding
		}
		for i := start; i < end; i++ {
			if result[i] == nil {
				return nil, fmt.Errorf("missing embedding for input index %d", i)
			}
		}
	}
	return result, nil
}
