// Package scheduler 周期任务调度与按宇宙并发执行
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task 周期任务
type Task func(ctx context.Context) error

// Scheduler 定时触发任务，任务队列容量为1
// 上一次执行未结束时多出的触发会被丢弃
type Scheduler struct {
	name     string
	interval time.Duration
	task     Task
	queue    chan struct{}
	logger   *zap.Logger

	runs    atomic.Int64
	skipped atomic.Int64
}

// New 创建调度器
func New(name string, interval time.Duration, task Task, log *zap.Logger) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		task:     task,
		queue:    make(chan struct{}, 1),
		logger:   log.With(zap.String("scheduler", name)),
	}
}

// Trigger 投递一次执行，队列已满时返回false
func (s *Scheduler) Trigger() bool {
	select {
	case s.queue <- struct{}{}:
		return true
	default:
		s.skipped.Add(1)
		s.logger.Debug("上一次任务仍在执行，跳过本次触发")
		return false
	}
}

// Runs 已完成的执行次数
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Skipped 被丢弃的触发次数
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

// Run 运行调度循环，直到ctx取消
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.worker(ctx)
	}()

	s.logger.Info("调度器启动", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			<-done
			s.logger.Info("调度器停止", zap.Int64("runs", s.Runs()), zap.Int64("skipped", s.Skipped()))
			return ctx.Err()
		case <-ticker.C:
			s.Trigger()
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.queue:
			start := time.Now()
			if err := s.task(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("任务执行失败", zap.Error(err))
			}
			s.runs.Add(1)
			s.logger.Debug("任务执行完成", zap.Duration("duration", time.Since(start)))
		}
	}
}

// ForEach 以最多limit的并发对每个id执行fn
// 单个id失败只记录日志，不影响其他id
func ForEach(ctx context.Context, ids []uint, limit int, fn func(ctx context.Context, id uint) error, log *zap.Logger) int {
	if limit <= 0 {
		limit = 1
	}
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range ids {
		g.Go(func() error {
			if err := fn(gctx, id); err != nil {
				failed.Add(1)
				log.Warn("任务执行失败", zap.Uint("id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failed.Load())
}
