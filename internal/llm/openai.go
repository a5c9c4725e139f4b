package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/wfunc/influence-rpg/internal/config"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
)

// OpenAI 兼容OpenAI协议的供应商（含Gemini的兼容端点）
type OpenAI struct {
	client         openai.Client
	model          string
	embeddingModel string
	dimensions     int
}

// NewOpenAI 创建OpenAI兼容供应商，重试由Service统一处理
func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAI{
		client:         openai.NewClient(opts...),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.EmbeddingDimensions,
	}
}

// Name 供应商名称
func (p *OpenAI) Name() string {
	return "openai"
}

// Complete 单轮补全
func (p *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.New(apperrors.ErrMalformedModelOutput, "响应中没有choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Embed 文本向量化
func (p *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(p.embeddingModel),
	}
	if p.dimensions > 0 {
		params.Dimensions = openai.Int(int64(p.dimensions))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) == 0 {
		return nil, apperrors.New(apperrors.ErrEmbeddingFailed, "响应中没有向量")
	}

	vector := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// classify 将供应商错误归类为业务错误码
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return apperrors.Wrap(err, apperrors.ErrUpstreamRateLimited)
		case apiErr.StatusCode >= http.StatusInternalServerError:
			return apperrors.Wrap(err, apperrors.ErrUpstreamUnavailable)
		}
	}
	if IsRateLimit(err) {
		return apperrors.Wrap(err, apperrors.ErrUpstreamRateLimited)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.ErrTimeout)
	}
	return apperrors.Wrap(err, apperrors.ErrUnknown)
}

// IsRateLimit 根据错误文本识别限流（Gemini返回RESOURCE_EXHAUSTED）
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "rate limit")
}
