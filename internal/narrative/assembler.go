package narrative

import (
	"context"
	"strings"
	"time"

	"github.com/wfunc/influence-rpg/internal/config"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/repository"
	"github.com/wfunc/influence-rpg/internal/token"
	"go.uber.org/zap"
)

// Mode 上下文模式
type Mode string

const (
	ModeFull       Mode = "full"
	ModeCompressed Mode = "compressed"
)

// Session 组装上下文所需的会话状态
type Session interface {
	GameID() uint
	History() []string
	Watermark() time.Time
	AdvanceWatermark(t time.Time)
}

// Prompt 组装结果
type Prompt struct {
	Text   string
	Mode   Mode
	Tokens int
	Usage  float64
}

// Assembler 上下文组装器
type Assembler struct {
	repos     repository.Repositories
	estimator *token.Estimator
	cfg       config.NarrativeConfig
	model     string
	logger    *zap.Logger
	now       func() time.Time
}

// NewAssembler 创建上下文组装器
func NewAssembler(repos repository.Repositories, estimator *token.Estimator, cfg config.NarrativeConfig, model string, log *zap.Logger) *Assembler {
	return &Assembler{
		repos:     repos,
		estimator: estimator,
		cfg:       cfg,
		model:     model,
		logger:    log,
		now:       time.Now,
	}
}

// Model 估算使用的模型
func (a *Assembler) Model() string {
	return a.model
}

// NewTurn 开始一个GM回合
func (a *Assembler) NewTurn(session Session, trigger string) *Turn {
	if strings.TrimSpace(trigger) == "" {
		trigger = DefaultTrigger
	}
	return &Turn{a: a, session: session, trigger: trigger}
}

// Turn 一个GM回合，回合内一旦压缩就保持压缩
type Turn struct {
	a          *Assembler
	session    Session
	trigger    string
	compressed bool
	lore       []string

	newsLoaded bool
	news       []*models.News
}

// GameID 回合所属游戏
func (t *Turn) GameID() uint {
	return t.session.GameID()
}

// Trigger 回合触发语
func (t *Turn) Trigger() string {
	return t.trigger
}

// Compressed 回合是否已进入压缩模式
func (t *Turn) Compressed() bool {
	return t.compressed
}

// AddLore 追加本回合检索到的设定
func (t *Turn) AddLore(chunks ...string) {
	t.lore = append(t.lore, chunks...)
}

// Build 组装带工具说明的提示词
func (t *Turn) Build(ctx context.Context, extra []string) (*Prompt, error) {
	return t.build(ctx, extra, true)
}

// BuildPlain 组装不带工具说明的提示词
func (t *Turn) BuildPlain(ctx context.Context, extra []string) (*Prompt, error) {
	return t.build(ctx, extra, false)
}

func (t *Turn) build(ctx context.Context, extra []string, tools bool) (*Prompt, error) {
	if !t.compressed {
		full, err := t.fullText(ctx, extra, tools)
		if err != nil {
			return nil, err
		}
		tokens := t.a.estimator.Estimate(full, t.a.model)
		usage := t.a.estimator.UsagePercent(tokens, t.a.model)
		if usage < t.a.cfg.ContextThresholdPercent {
			if n := len(t.news); n > 0 {
				t.session.AdvanceWatermark(t.news[n-1].PublishedAt)
			}
			return &Prompt{Text: full, Mode: ModeFull, Tokens: tokens, Usage: usage}, nil
		}
		t.a.logger.Info("上下文超过阈值，切换为压缩模式",
			zap.Uint("game_id", t.session.GameID()),
			zap.Int("tokens", tokens),
			zap.Float64("usage", usage),
		)
		t.compressed = true
	}

	text, err := t.compressedText(ctx, extra, tools)
	if err != nil {
		return nil, err
	}
	tokens := t.a.estimator.Estimate(text, t.a.model)
	return &Prompt{
		Text:   text,
		Mode:   ModeCompressed,
		Tokens: tokens,
		Usage:  t.a.estimator.UsagePercent(tokens, t.a.model),
	}, nil
}

// loadNews 读取水位之后的新闻，每回合只读一次
func (t *Turn) loadNews(ctx context.Context, universeIDs []uint) error {
	if t.newsLoaded {
		return nil
	}
	t.newsLoaded = true
	if len(universeIDs) == 0 {
		return nil
	}
	items, err := t.a.repos.News().After(ctx, universeIDs, t.session.Watermark(), t.a.cfg.NewsItems)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseQuery, "读取宇宙新闻失败")
	}
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	t.news = items
	return nil
}

func (t *Turn) fullText(ctx context.Context, extra []string, tools bool) (string, error) {
	gameID := t.session.GameID()
	universeIDs, err := t.a.repos.Universes().UniverseIDsOfGame(ctx, gameID)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if err := t.loadNews(ctx, universeIDs); err != nil {
		return "", err
	}

	var entities []*models.NamedEntity
	for _, id := range universeIDs {
		list, err := t.a.repos.Entities().ListByUniverse(ctx, id)
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
		}
		entities = append(entities, list...)
	}

	var parts []string
	parts = appendBlock(parts, NewsBlock(t.news, t.a.now()))
	parts = appendBlock(parts, LoreBlock(t.lore))
	parts = appendBlock(parts, EntitiesBlock(entities))
	parts = append(parts, "Conversation History:\n"+strings.Join(t.session.History(), "\n"))
	return t.finish(parts, extra, tools), nil
}

func (t *Turn) compressedText(ctx context.Context, extra []string, tools bool) (string, error) {
	gameID := t.session.GameID()
	repos := t.a.repos

	universes, err := repos.Universes().UniversesOfGame(ctx, gameID)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	players, err := repos.Games().Players(ctx, gameID)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	opening, err := repos.Chats().FirstBySender(ctx, gameID, models.SenderGM)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	latest, err := repos.Summaries().Latest(ctx, gameID)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	recent, err := repos.Chats().Recent(ctx, gameID, t.a.cfg.RecentMessages)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	var parts []string
	if len(universes) > 0 {
		u := universes[0]
		parts = append(parts, "Universe: "+u.Name+"\n"+u.Description)
		if r := u.Ruleset; r != nil {
			parts = append(parts, "Ruleset: "+r.Name+"\n"+r.Description+"\nSummary: "+r.Summary+"\nDetails: "+r.LongSummary)
		}
	}
	if len(players) > 0 {
		names := make([]string, 0, len(players))
		for _, p := range players {
			if p.Character != nil {
				names = append(names, p.Character.DisplayName())
			}
		}
		parts = append(parts, "Players: "+strings.Join(names, ", "))
	}
	if opening != nil {
		parts = append(parts, "Opening Scene:\n"+opening.Message)
	}
	if latest != nil {
		parts = append(parts, "Latest Summary:\n"+latest.Summary)
	}
	if len(recent) > 0 {
		lines := make([]string, len(recent))
		for i, m := range recent {
			lines[i] = m.Sender + ": " + m.Message
		}
		parts = append(parts, "Recent Messages:\n"+strings.Join(lines, "\n"))
	}
	parts = appendBlock(parts, LoreBlock(t.lore))
	return t.finish(parts, extra, tools), nil
}

func (t *Turn) finish(parts, extra []string, tools bool) string {
	if len(extra) > 0 {
		parts = append(parts, "Tool Results:\n"+strings.Join(extra, "\n"))
	}
	parts = append(parts, "User (trigger): "+t.trigger)
	if tools {
		parts = append(parts, ToolInstructions)
	}
	parts = append(parts, "GM Response:")
	return strings.Join(parts, "\n\n")
}

func appendBlock(parts []string, block string) []string {
	if block == "" {
		return parts
	}
	return append(parts, block)
}
