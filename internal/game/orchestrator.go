package game

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wfunc/influence-rpg/internal/config"
	"github.com/wfunc/influence-rpg/internal/embedding"
	"github.com/wfunc/influence-rpg/internal/engine"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/llm"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/narrative"
	"github.com/wfunc/influence-rpg/internal/notify"
	"github.com/wfunc/influence-rpg/internal/repository"
	"github.com/wfunc/influence-rpg/internal/scheduler"
	"github.com/wfunc/influence-rpg/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultMarker 触发GM的前缀
const DefaultMarker = "/gm"

// Participant 一个已加入游戏的连接
type Participant struct {
	*StateMachine
	conn      Conn
	session   *Session
	character *models.Character
	gameID    uint
}

// GameID 所在游戏
func (p *Participant) GameID() uint {
	return p.gameID
}

// Character 参与者的角色
func (p *Participant) Character() *models.Character {
	return p.character
}

// Display 聊天中展示的名字
func (p *Participant) Display() string {
	return p.character.DisplayName()
}

// OrchestratorConfig 编排器依赖
type OrchestratorConfig struct {
	Store       engine.Store
	Registry    *SessionRegistry
	Broadcaster Broadcaster
	Assembler   *narrative.Assembler
	Planner     *narrative.Planner
	Completer   llm.Completer
	Embedder    *embedding.Service
	Events      *eventlog.Log
	Detector    scheduler.ConflictDetector
	Entities    *engine.EntityExtractor
	Lifecycle   *engine.Lifecycle
	Notifier    notify.Notifier
	Narrative   config.NarrativeConfig
	Logger      *zap.Logger
}

// Orchestrator 游戏聊天编排器
type Orchestrator struct {
	store       engine.Store
	registry    *SessionRegistry
	broadcaster Broadcaster
	assembler   *narrative.Assembler
	planner     *narrative.Planner
	completer   llm.Completer
	embedder    *embedding.Service
	events      *eventlog.Log
	detector    scheduler.ConflictDetector
	entities    *engine.EntityExtractor
	lifecycle   *engine.Lifecycle
	notifier    notify.Notifier
	marker      string
	logger      *zap.Logger
	now         func() time.Time
}

// NewOrchestrator 创建编排器
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	marker := cfg.Narrative.GMMarker
	if marker == "" {
		marker = DefaultMarker
	}
	return &Orchestrator{
		store:       cfg.Store,
		registry:    cfg.Registry,
		broadcaster: cfg.Broadcaster,
		assembler:   cfg.Assembler,
		planner:     cfg.Planner,
		completer:   cfg.Completer,
		embedder:    cfg.Embedder,
		events:      cfg.Events,
		detector:    cfg.Detector,
		entities:    cfg.Entities,
		lifecycle:   cfg.Lifecycle,
		notifier:    cfg.Notifier,
		marker:      marker,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// SetBroadcaster 设置广播器
func (o *Orchestrator) SetBroadcaster(b Broadcaster) {
	o.broadcaster = b
}

// Registry 会话注册表
func (o *Orchestrator) Registry() *SessionRegistry {
	return o.registry
}

// Join 加入游戏：回放历史给新连接，向其他连接宣布加入
// 连接需已在广播器中登记
func (o *Orchestrator) Join(ctx context.Context, gameID, characterID uint, conn Conn) (*Participant, error) {
	if _, err := o.store.Games().FindByID(ctx, gameID); err != nil {
		return nil, err
	}
	ok, err := o.store.Games().IsPlayer(ctx, gameID, characterID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotAPlayer, "角色 %d 不在游戏 %d 中", characterID, gameID)
	}
	character, err := o.store.Users().FindCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}

	session, err := o.registry.Acquire(ctx, gameID)
	if err != nil {
		return nil, err
	}
	p := &Participant{
		StateMachine: NewStateMachine(conn.ID(), o.logger),
		conn:         conn,
		session:      session,
		character:    character,
		gameID:       gameID,
	}

	if err := o.welcome(ctx, p); err != nil {
		o.registry.Release(gameID)
		return nil, err
	}
	if err := p.Trigger(EventJoin); err != nil {
		o.registry.Release(gameID)
		return nil, err
	}

	o.logger.Info("玩家加入游戏",
		zap.Uint("game_id", gameID),
		zap.Uint("character_id", characterID),
		zap.String("conn_id", conn.ID()))
	return p, nil
}

func (o *Orchestrator) welcome(ctx context.Context, p *Participant) error {
	s := p.session
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := o.store.Chats().ListByGame(ctx, p.gameID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	for _, m := range messages {
		if err := p.conn.Send(FrameOf(m)); err != nil {
			return apperrors.Wrap(err, apperrors.ErrWebSocketSend)
		}
	}
	if a, ok := p.conn.(Attacher); ok {
		a.Attach()
	}

	profile := string(p.character.Data)
	if profile == "" {
		profile = "{}"
	}
	lines := []string{
		p.Display() + " has joined the game.",
		fmt.Sprintf("%s's full profile: %s", p.character.Name, profile),
	}
	for _, line := range lines {
		s.Append(models.SenderSystem + ": " + line)
		o.broadcast(p.gameID, NewFrame(p.gameID, models.SenderSystem, line), p.conn.ID())
	}
	return nil
}

// Leave 断开连接并释放会话
func (o *Orchestrator) Leave(p *Participant) {
	if p == nil || p.GetState() == StateDisconnected {
		return
	}
	if err := p.Trigger(EventLeave); err != nil {
		o.logger.Warn("断开状态转换失败", zap.Error(err))
	}
	o.registry.Release(p.gameID)
	o.logger.Info("玩家离开游戏", zap.Uint("game_id", p.gameID), zap.Uint("character_id", p.character.ID))
}

// Handle 处理参与者发来的一条消息
func (o *Orchestrator) Handle(ctx context.Context, p *Participant, text string) error {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return nil
	}

	if rest, ok := o.triggerText(stripped); ok {
		if err := p.Trigger(EventTrigger); err != nil {
			return err
		}
		defer p.Trigger(EventDone)
		return o.trigger(ctx, p, rest)
	}

	if err := p.Trigger(EventMessage); err != nil {
		return err
	}
	defer p.Trigger(EventDone)
	return o.message(ctx, p, text)
}

// triggerText 识别GM前缀，返回前缀后的内容
func (o *Orchestrator) triggerText(stripped string) (string, bool) {
	if !strings.HasPrefix(stripped, o.marker) {
		return "", false
	}
	rest := stripped[len(o.marker):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' && rest[0] != '\n' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// ParseCommand 解析 /gm 之后的内容
func ParseCommand(rest string) (Command, string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return CommandNarrate, ""
	}
	switch cmd := Command(fields[0]); cmd {
	case CommandSummarize, CommandHistory, CommandExtractEntities:
		return cmd, strings.TrimSpace(strings.TrimPrefix(rest, fields[0]))
	}
	return CommandNarrate, rest
}

// message 玩家消息：持久化、记录历史并广播给所有连接
func (o *Orchestrator) message(ctx context.Context, p *Participant, text string) error {
	if _, err := o.openGame(ctx, p.gameID); err != nil {
		return err
	}
	return o.post(ctx, p.session, p.Display(), text)
}

// trigger GM回合，同一游戏串行执行
func (o *Orchestrator) trigger(ctx context.Context, p *Participant, rest string) error {
	s := p.session
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	game, err := o.openGame(ctx, p.gameID)
	if err != nil {
		return err
	}

	cmd, arg := ParseCommand(rest)
	ctx, span := telemetry.Tracer("game").Start(ctx, "game.trigger")
	defer span.End()
	span.SetAttributes(attribute.Int("game.id", int(p.gameID)), attribute.String("command", string(cmd)))

	switch cmd {
	case CommandSummarize:
		return o.summarize(ctx, s)
	case CommandHistory:
		return o.history(ctx, s, arg)
	case CommandExtractEntities:
		return o.extractEntities(ctx, s)
	default:
		return o.narrate(ctx, p, game, arg)
	}
}

// openGame 终态游戏拒绝新的回合，等待中的游戏在首条消息时激活
func (o *Orchestrator) openGame(ctx context.Context, gameID uint) (*models.Game, error) {
	game, err := o.store.Games().FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.IsTerminal() {
		return nil, apperrors.Newf(apperrors.ErrGameTerminal, "游戏 %d 状态为 %s", gameID, game.Status)
	}
	if game.Status == models.GameStatusWaiting {
		if _, err := o.lifecycle.Activate(ctx, gameID); err != nil {
			return nil, err
		}
		game.Status = models.GameStatusActive
	}
	return game, nil
}

// post 持久化消息、追加历史并广播，三者在会话锁内保持顺序
func (o *Orchestrator) post(ctx context.Context, s *Session, sender, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &models.ChatMessage{GameID: s.gameID, Sender: sender, Message: text}
	if err := o.store.Chats().Create(ctx, msg); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}
	s.Append(sender + ": " + text)
	o.broadcast(s.gameID, FrameOf(msg), "")
	return nil
}

// announce 只广播不持久化，remember为true时追加到历史
func (o *Orchestrator) announce(s *Session, sender, text string, remember bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remember {
		s.Append(sender + ": " + text)
	}
	o.broadcast(s.gameID, NewFrame(s.gameID, sender, text), "")
}

func (o *Orchestrator) broadcast(gameID uint, frame Frame, except string) {
	if o.broadcaster != nil {
		o.broadcaster.Broadcast(gameID, frame, except)
	}
}

// summarize 总结上次摘要之后的对话，记录事件并检测冲突
func (o *Orchestrator) summarize(ctx context.Context, s *Session) error {
	gameID := s.gameID
	latest, err := o.store.Summaries().Latest(ctx, gameID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	var since time.Time
	if latest != nil {
		since = latest.SummaryDate
	}
	messages, err := o.store.Chats().Since(ctx, gameID, since)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if len(messages) == 0 {
		o.announce(s, models.SenderSystem, "Nothing new to summarize.", false)
		return nil
	}

	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = m.Sender + ": " + m.Message
	}
	text, err := o.completer.Complete(ctx, narrative.SummaryPrompt(strings.Join(lines, "\n")))
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		o.announce(s, models.SenderSystem, "The summary could not be generated. Try again later.", false)
		return nil
	}

	universeIDs, err := o.store.Universes().UniverseIDsOfGame(ctx, gameID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	now := o.now()
	summary := &models.GameSummary{
		GameID:      gameID,
		Summary:     text,
		Embedding:   models.ToJSON(o.embedder.Embed(ctx, text)),
		SummaryDate: now,
	}
	err = o.store.WithTransaction(ctx, func(tx *repository.Transaction) error {
		if err := tx.Summaries().Create(ctx, summary); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
		}
		log := o.events.In(tx)
		for _, uid := range universeIDs {
			if _, err := log.Append(ctx, uid, gameID, models.EventGMSummary, eventlog.SummaryPayload{
				SummaryID: summary.ID,
				Summary:   text,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if o.detector != nil && len(universeIDs) > 0 {
		scheduler.ForEach(ctx, universeIDs, len(universeIDs), func(ctx context.Context, uid uint) error {
			_, err := o.detector.Detect(ctx, uid)
			return err
		}, o.logger)
	}

	o.announce(s, models.SenderSystem, fmt.Sprintf("[Summary generated at %s]", now.UTC().Format(time.RFC3339)), true)
	return nil
}

// history 广播最近k条摘要，k为空时广播全部
func (o *Orchestrator) history(ctx context.Context, s *Session, arg string) error {
	k, _ := strconv.Atoi(strings.TrimSpace(arg))
	if k < 0 {
		k = 0
	}
	summaries, err := o.store.Summaries().List(ctx, s.gameID, k)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	for _, sum := range summaries {
		o.announce(s, models.SenderHistory, fmt.Sprintf("[%s] %s", sum.SummaryDate.UTC().Format(time.RFC3339), sum.Summary), false)
	}
	return nil
}

// extractEntities 抽取实体并广播刷新后的名册
func (o *Orchestrator) extractEntities(ctx context.Context, s *Session) error {
	roster, err := o.entities.Refresh(ctx, s.gameID, s.History())
	if err != nil {
		return err
	}
	o.announce(s, models.SenderEntities, engine.FormatRoster(roster), false)
	return nil
}

// narrate 默认GM回合：运行工具循环，持久化并广播最终叙事
func (o *Orchestrator) narrate(ctx context.Context, p *Participant, game *models.Game, trigger string) error {
	s := p.session
	turn := o.assembler.NewTurn(s, trigger)
	out, err := o.planner.Run(ctx, turn, narrative.Hooks{
		OnDice: func(ctx context.Context, r narrative.DiceResult) error {
			return o.post(ctx, s, models.SenderSystem, r.String())
		},
	})
	if err != nil {
		return err
	}

	if out.Narrative == "" {
		o.announce(s, models.SenderSystem, "The Game Master is silent. Try again in a moment.", false)
		return nil
	}
	if err := o.post(ctx, s, models.SenderGM, out.Narrative); err != nil {
		return err
	}

	if out.Branch != nil {
		names := make([]string, len(out.Branch.Games))
		for i, g := range out.Branch.Games {
			names[i] = fmt.Sprintf("%q (game %d)", g.Name, g.ID)
		}
		if err := o.post(ctx, s, models.SenderSystem, "The party has branched into "+strings.Join(names, ", ")+"."); err != nil {
			return err
		}
	}

	o.logger.Info("GM回合完成",
		zap.Uint("game_id", game.ID),
		zap.Int("rounds", out.Rounds),
		zap.String("mode", string(out.Mode)),
		zap.Int("dice", len(out.Dice)))

	o.notifyAdvanced(ctx, game, p)
	return nil
}

// notifyAdvanced 通知其他玩家游戏已推进
func (o *Orchestrator) notifyAdvanced(ctx context.Context, game *models.Game, p *Participant) {
	if o.notifier == nil {
		return
	}
	players, err := o.store.Games().Players(ctx, game.ID)
	if err != nil {
		o.logger.Warn("读取玩家失败，跳过通知", zap.Uint("game_id", game.ID), zap.Error(err))
		return
	}
	var users []uint
	for _, pl := range players {
		if pl.Character != nil && pl.Character.UserID != p.character.UserID {
			users = append(users, pl.Character.UserID)
		}
	}
	notify.Many(ctx, o.notifier, users, fmt.Sprintf("Game %q has advanced.", game.Name))
}
