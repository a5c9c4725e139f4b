package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/influence-rpg/internal/config"
	"github.com/wfunc/influence-rpg/internal/engine"
	"github.com/wfunc/influence-rpg/internal/models"
	"go.uber.org/zap"
)

func TestScheduler_SkipsWhileBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	s := New("test", time.Hour, func(ctx context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.True(t, s.Trigger())
	<-started
	// 执行中：队列容量为1
	assert.True(t, s.Trigger())
	assert.False(t, s.Trigger())
	assert.Equal(t, int64(1), s.Skipped())

	close(release)
	<-started
	assert.Eventually(t, func() bool { return s.Runs() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestScheduler_Ticks(t *testing.T) {
	var n atomic.Int64
	s := New("tick", 5*time.Millisecond, func(ctx context.Context) error {
		n.Add(1)
		return errors.New("boom")
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	assert.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestForEach_LimitsAndIsolatesFailures(t *testing.T) {
	var running, peak atomic.Int64
	var mu sync.Mutex
	seen := map[uint]bool{}

	failed := ForEach(context.Background(), []uint{1, 2, 3, 4, 5, 6}, 2, func(ctx context.Context, id uint) error {
		cur := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		seen[id] = true
		mu.Unlock()
		if id == 3 {
			return errors.New("universe 3 failed")
		}
		return nil
	}, zap.NewNop())

	assert.Equal(t, 1, failed)
	assert.Len(t, seen, 6)
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

type fakeUniverses []uint

func (f fakeUniverses) AllIDs(context.Context) ([]uint, error) { return f, nil }

type fakePublisher struct {
	mu   sync.Mutex
	seen []uint
}

func (p *fakePublisher) Publish(_ context.Context, id uint) (*models.News, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, id)
	if id == 2 {
		return nil, errors.New("model down")
	}
	return &models.News{ID: id, UniverseID: id}, nil
}

type fakeDetector struct {
	calls atomic.Int64
}

func (d *fakeDetector) Detect(context.Context, uint) ([]engine.DetectedConflict, error) {
	d.calls.Add(1)
	return nil, nil
}

func TestNewsSweep(t *testing.T) {
	publisher := &fakePublisher{}
	detector := &fakeDetector{}
	sweep := NewNewsSweep(fakeUniverses{1, 2, 3}, publisher, detector, config.NewsConfig{Concurrency: 2, DetectOnSweep: true}, zap.NewNop())

	require.NoError(t, sweep.Run(context.Background()))
	assert.ElementsMatch(t, []uint{1, 2, 3}, publisher.seen)
	assert.Equal(t, int64(2), detector.calls.Load())

	detector = &fakeDetector{}
	sweep = NewNewsSweep(fakeUniverses{1}, &fakePublisher{}, detector, config.NewsConfig{}, zap.NewNop())
	require.NoError(t, sweep.Run(context.Background()))
	assert.Equal(t, int64(0), detector.calls.Load())
}
