package engine

import (
	"context"
	"strings"

	"github.com/wfunc/influence-rpg/internal/config"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/llm"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
)

// NewsPrompt 新闻生成提示
const NewsPrompt = "You are a news reporter in a shared gaming universe.\nWrite a concise news bulletin summarizing these recent events:\n"

// NewsExtractor 把宇宙近期事件整理为新闻
type NewsExtractor struct {
	store     Store
	events    *eventlog.Log
	completer llm.Completer
	limit     int
	logger    *zap.Logger
}

// NewNewsExtractor 创建新闻整理器
func NewNewsExtractor(store Store, events *eventlog.Log, completer llm.Completer, cfg config.NewsConfig, log *zap.Logger) *NewsExtractor {
	limit := cfg.EventLimit
	if limit <= 0 {
		limit = 50
	}
	return &NewsExtractor{store: store, events: events, completer: completer, limit: limit, logger: log}
}

// Publish 生成并发布一条新闻，没有事件或模型没有输出时返回nil
func (n *NewsExtractor) Publish(ctx context.Context, universeID uint) (*models.News, error) {
	ctx, span := startSpan(ctx, "engine.news")
	defer span.End()

	events, err := n.events.Recent(ctx, universeID, n.limit)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	lines := make([]string, 0, len(events)+1)
	lines = append(lines, NewsPrompt)
	for _, e := range events {
		lines = append(lines, eventlog.FormatLine(e))
	}

	summary, err := n.completer.Complete(ctx, strings.Join(lines, "\n"))
	if err != nil {
		return nil, err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		n.logger.Warn("新闻生成没有输出", zap.Uint("universe_id", universeID))
		return nil, nil
	}

	item := &models.News{UniverseID: universeID, Summary: summary}
	err = n.store.WithTransaction(ctx, func(tx *repository.Transaction) error {
		if err := tx.News().Create(ctx, item); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
		}
		_, err := n.events.In(tx).Append(ctx, universeID, 0, models.EventNews, eventlog.NewsPayload{
			NewsID:  item.ID,
			Summary: summary,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}
