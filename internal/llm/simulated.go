package llm

import (
	"context"
	"sync"
)

// SimulatedPrefix 模拟供应商的响应前缀
const SimulatedPrefix = "Simulated response for prompt:\n"

// Simulated 未配置密钥时使用的模拟供应商，原样回显提示词
type Simulated struct{}

// Name 供应商名称
func (Simulated) Name() string {
	return "simulated"
}

// Complete 返回回显结果
func (Simulated) Complete(_ context.Context, prompt string) (string, error) {
	return SimulatedPrefix + prompt, nil
}

// Scripted 按顺序返回预设响应的供应商，记录收到的提示词，测试用
type Scripted struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	fallback  string
	prompts   []string
}

// NewScripted 创建预设响应供应商
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses}
}

// Name 供应商名称
func (s *Scripted) Name() string {
	return "scripted"
}

// Push 追加预设响应
func (s *Scripted) Push(responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, responses...)
}

// PushError 追加一次错误，优先于预设响应返回
func (s *Scripted) PushError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

// SetFallback 预设响应耗尽后的默认返回
func (s *Scripted) SetFallback(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = text
}

// Complete 返回下一条预设响应
func (s *Scripted) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return "", err
	}
	if len(s.responses) == 0 {
		return s.fallback, nil
	}
	out := s.responses[0]
	s.responses = s.responses[1:]
	return out, nil
}

// Prompts 已收到的提示词
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.prompts))
	copy(out, s.prompts)
	return out
}
