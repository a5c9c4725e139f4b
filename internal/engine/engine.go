// Package engine 宇宙级叙事引擎
//
// 冲突检测、合并、分支与生命周期只通过事件日志和游戏状态交互，
// 所有状态写入都在事务内使用比较并设置，竞争失败返回 ErrStatusConflict 并整体回滚。
package engine

import (
	"context"

	"github.com/wfunc/influence-rpg/internal/repository"
	"github.com/wfunc/influence-rpg/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Store 引擎使用的仓储与事务能力，repository.Manager 实现它
type Store interface {
	repository.Repositories
	WithTransaction(ctx context.Context, fn func(tx *repository.Transaction) error) error
}

// ParseKind 模型结构化输出的解析结果类型
type ParseKind int

const (
	// ParseOK 解析成功
	ParseOK ParseKind = iota
	// ParseInvalid JSON格式错误或不符合schema
	ParseInvalid
)

// Dedupe 按出现顺序去重，丢弃0
func Dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return telemetry.Tracer("engine").Start(ctx, name)
}
