// Package embedding 摘要向量化服务
package embedding

import (
	"context"

	"go.uber.org/zap"
)

// Embedder 底层向量化能力
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service 固定维度的向量化服务，失败时返回零向量
type Service struct {
	embedder   Embedder
	dimensions int
	logger     *zap.Logger
}

// NewService 创建向量化服务，embedder为nil时总是返回零向量
func NewService(embedder Embedder, dimensions int, log *zap.Logger) *Service {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Service{embedder: embedder, dimensions: dimensions, logger: log}
}

// Dimensions 向量长度
func (s *Service) Dimensions() int {
	return s.dimensions
}

// Embed 向量化文本，结果长度恒为Dimensions
func (s *Service) Embed(ctx context.Context, text string) []float32 {
	if s.embedder == nil || text == "" {
		return make([]float32, s.dimensions)
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("向量化失败，使用零向量", zap.Error(err))
		return make([]float32, s.dimensions)
	}
	return fit(vector, s.dimensions)
}

// fit 截断或补零到指定长度
func fit(vector []float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, vector)
	return out
}
