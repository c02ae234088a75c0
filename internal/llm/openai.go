package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig selects models for each call. Empty models fall back to
// the chat model.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	SummaryModel   string
	EmbeddingModel string
	// MaxReportTokens caps the report length. Zero leaves it to the API.
	MaxReportTokens int
}

// OpenAI implements Summarizer, ReportGenerator and Embedder with the
// official OpenAI SDK.
type OpenAI struct {
	client openai.Client
	cfg    OpenAIConfig
}

// NewOpenAI creates a client. Retries are disabled; a failed call fails
// its task and the caller decides whether to re-queue.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = cfg.Model
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	return &OpenAI{client: openai.NewClient(opts...), cfg: cfg}
}

// EmbeddingModel is the model name stored alongside vectors.
func (o *OpenAI) EmbeddingModel() string { return o.cfg.EmbeddingModel }

// SummaryModel is the model name stored alongside summaries.
func (o *OpenAI) SummaryModel() string { return o.cfg.SummaryModel }

const summarizeSystem = `You summarize a single email for a communication report.
Reply with JSON only: {"summary": "<two sentences at most>", "labels": ["<short topic label>", ...]}`

// Summarize digests one email body into a short summary and topic labels.
func (o *OpenAI) Summarize(ctx context.Context, text string) (SummaryResult, error) {
	content, err := o.complete(ctx, o.cfg.SummaryModel, summarizeSystem, text, 0)
	if err != nil {
		return SummaryResult{}, fmt.Errorf("summarize: %w", err)
	}

	var out SummaryResult
	if err := json.Unmarshal([]byte(stripFences(content)), &out); err != nil || out.Summary == "" {
		// Models occasionally ignore the format; keep the prose.
		return SummaryResult{Summary: strings.TrimSpace(content)}, nil
	}
	return out, nil
}

const reportSystem = `You write a communication report in markdown from the emails provided.
Detailed emails include their body; summary-only emails include metadata and a summary.
Reply with JSON only: {"report": "<markdown>", "highlights": ["<one line>", ...]}`

// GenerateReport writes a markdown report from tiered material.
func (o *OpenAI) GenerateReport(ctx context.Context, m Material) (Report, error) {
	content, err := o.complete(ctx, o.cfg.Model, reportSystem, FormatMaterial(m), o.cfg.MaxReportTokens)
	if err != nil {
		return Report{}, fmt.Errorf("generate report: %w", err)
	}

	var out Report
	if err := json.Unmarshal([]byte(stripFences(content)), &out); err != nil || out.Text == "" {
		return Report{Text: strings.TrimSpace(content)}, nil
	}
	return out, nil
}

// Embed returns one vector per text, in input order.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(o.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", classify(err))
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("embed: vector index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func (o *OpenAI) complete(ctx context.Context, model, system, user string, maxTokens int) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps provider authentication failures onto ErrUnauthorized so
// callers can tell them apart from timeouts and generic failures.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
	}
	return err
}

// stripFences removes a markdown code fence around a JSON reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
