// Package llm 叙事模型服务：供应商适配、限流重试与降级
package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wfunc/influence-rpg/internal/config"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/logger"
	"github.com/wfunc/influence-rpg/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Completer 文本补全能力
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Provider 具体的模型供应商
type Provider interface {
	Completer
	Name() string
}

// Service 带重试与降级的补全服务
// 限流和上游不可用会按固定间隔重试，最终失败时返回空字符串而不是错误
type Service struct {
	provider   Provider
	model      string
	maxTries   uint
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewService 创建补全服务
func NewService(provider Provider, cfg config.LLMConfig, log *zap.Logger) *Service {
	tries := cfg.MaxRetries
	if tries <= 0 {
		tries = 1
	}
	return &Service{
		provider:   provider,
		model:      cfg.Model,
		maxTries:   uint(tries),
		retryDelay: cfg.RetryBackoff,
		logger:     log,
	}
}

// NewProvider 按配置创建供应商
func NewProvider(cfg config.LLMConfig) Provider {
	if cfg.Provider == "openai" && cfg.APIKey != "" {
		return NewOpenAI(cfg)
	}
	return Simulated{}
}

// Model 当前使用的模型名
func (s *Service) Model() string {
	return s.model
}

// Complete 请求补全，失败时降级为空字符串
// 只有上下文被取消时才返回错误
func (s *Service) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := telemetry.Tracer("llm").Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", s.provider.Name()),
		attribute.String("llm.model", s.model),
		attribute.Int("llm.prompt_chars", len(prompt)),
	)

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	start := time.Now()
	attempt := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempt++
		out, err := s.provider.Complete(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if apperrors.IsRetryable(err) {
			s.logger.Warn("模型服务暂时不可用，准备重试",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return "", err
		}
		return "", backoff.Permanent(err)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.retryDelay)),
		backoff.WithMaxTries(s.maxTries),
	)

	logger.LogModelCall(s.logger, "complete", s.model, len(prompt)/4, time.Since(start), err)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.SetStatus(codes.Error, ctxErr.Error())
			return "", ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "degraded")
		s.logger.Error("模型调用失败，返回空结果", zap.Int("attempts", attempt), zap.Error(err))
		return "", nil
	}
	// 调用期间被取消的结果不再使用
	if ctxErr := ctx.Err(); ctxErr != nil {
		span.SetStatus(codes.Error, ctxErr.Error())
		return "", ctxErr
	}
	return text, nil
}
