// Package token 估算提示词的token数量及其占模型上下文窗口的比例
package token

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
	"go.uber.org/zap"
)

// DefaultEncoding 没有专用编码的模型使用的BPE
const DefaultEncoding = "cl100k_base"

// DefaultWindows 已知模型的上下文窗口
var DefaultWindows = map[string]int{
	"gemini-2.0-flash": 131072,
	"gpt-3.5-turbo":    4096,
	"gpt-4":            8192,
	"gpt-4o":           128000,
	"gpt-4o-mini":      128000,
}

var loaderOnce sync.Once

// Estimator token估算器，并发安全
type Estimator struct {
	windows map[string]int
	logger  *zap.Logger

	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	warned   map[string]bool
}

// NewEstimator 创建估算器，extra中的窗口覆盖默认值
func NewEstimator(extra map[string]int, logger *zap.Logger) *Estimator {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	windows := make(map[string]int, len(DefaultWindows)+len(extra))
	for model, size := range DefaultWindows {
		windows[model] = size
	}
	for model, size := range extra {
		if size > 0 {
			windows[model] = size
		}
	}

	return &Estimator{
		windows:  windows,
		logger:   logger,
		encoders: make(map[string]*tiktoken.Tiktoken),
		warned:   make(map[string]bool),
	}
}

// Window 模型的上下文窗口，未知模型返回0
func (e *Estimator) Window(model string) int {
	return e.windows[model]
}

// Estimate 估算文本在指定模型下的token数
// 已知模型使用BPE计数，未知模型或编码不可用时按 字符数/4 估算
func (e *Estimator) Estimate(text, model string) int {
	if text == "" {
		return 0
	}
	if _, known := e.windows[model]; known {
		if enc := e.encoder(model); enc != nil {
			return len(enc.Encode(text, nil, nil))
		}
	}
	return Heuristic(text)
}

// Heuristic 字符数/4的粗略估算，非空文本至少为1
func Heuristic(text string) int {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text) / 4
	if n < 1 {
		return 1
	}
	return n
}

// UsagePercent token数占模型窗口的百分比，未知模型返回0并告警一次
func (e *Estimator) UsagePercent(tokens int, model string) float64 {
	window := e.windows[model]
	if window <= 0 {
		e.warnOnce(model)
		return 0
	}
	return float64(tokens) / float64(window) * 100
}

// encoder 获取并缓存模型的编码器
func (e *Estimator) encoder(model string) *tiktoken.Tiktoken {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encoders[model]; ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(DefaultEncoding)
	}
	if err != nil {
		e.logger.Warn("加载BPE编码失败，改用字符估算", zap.String("model", model), zap.Error(err))
		enc = nil
	}
	e.encoders[model] = enc
	return enc
}

// warnOnce 每个未知模型只告警一次
func (e *Estimator) warnOnce(model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.warned[model] {
		return
	}
	e.warned[model] = true
	e.logger.Warn("未知模型的上下文窗口，使用率按0计算", zap.String("model", model))
}
