package service

import (
	"context"
	"strings"

	"github.com/wfunc/influence-rpg/internal/config"
	"github.com/wfunc/influence-rpg/internal/engine"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/llm"
	"github.com/wfunc/influence-rpg/internal/lore"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/narrative"
	"github.com/wfunc/influence-rpg/internal/repository"
	"go.uber.org/zap"
)

// setupNewsItems 设定生成时附带的新闻条数
const setupNewsItems = 5

// gameService 游戏服务实现
type gameService struct {
	store     engine.Store
	lifecycle *engine.Lifecycle
	brancher  *engine.Brancher
	completer llm.Completer
	retriever lore.Retriever
	cfg       config.NarrativeConfig
	logger    *zap.Logger
}

// GameServiceConfig 游戏服务依赖
type GameServiceConfig struct {
	Store     engine.Store
	Lifecycle *engine.Lifecycle
	Brancher  *engine.Brancher
	Completer llm.Completer
	Retriever lore.Retriever
	Narrative config.NarrativeConfig
	Logger    *zap.Logger
}

// NewGameService 创建游戏服务
func NewGameService(cfg *GameServiceConfig) GameService {
	return &gameService{
		store:     cfg.Store,
		lifecycle: cfg.Lifecycle,
		brancher:  cfg.Brancher,
		completer: cfg.Completer,
		retriever: cfg.Retriever,
		cfg:       cfg.Narrative,
		logger:    cfg.Logger,
	}
}

// Create 创建游戏，有开场设定时生成开场场景
func (s *gameService) Create(ctx context.Context, req *CreateGameRequest) (*models.Game, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.New(apperrors.ErrInvalidParam, "游戏名称不能为空")
	}

	var starter *models.Character
	var characterIDs []uint
	if req.CharacterID > 0 {
		c, err := s.availableCharacter(ctx, req.CharacterID, 0)
		if err != nil {
			return nil, err
		}
		starter = c
		characterIDs = append(characterIDs, c.ID)
	}

	game := &models.Game{Name: name, SetupText: strings.TrimSpace(req.InitialDetails)}
	if err := s.lifecycle.Create(ctx, game, req.UniverseIDs, characterIDs...); err != nil {
		return nil, err
	}

	if game.SetupText != "" {
		s.openingScene(ctx, game, starter)
	}

	s.logger.Info("创建游戏",
		zap.Uint("game_id", game.ID),
		zap.String("name", name),
		zap.Uints("universe_ids", req.UniverseIDs))
	return game, nil
}

// openingScene 生成开场场景并作为GM消息保存，失败只记录日志
func (s *gameService) openingScene(ctx context.Context, game *models.Game, starter *models.Character) {
	var universe *models.Universe
	universes, err := s.store.Universes().UniversesOfGame(ctx, game.ID)
	if err != nil {
		s.logger.Warn("读取游戏宇宙失败", zap.Uint("game_id", game.ID), zap.Error(err))
	}
	if len(universes) > 0 {
		universe = universes[0]
	}

	startingPlayer := "Unknown"
	if starter != nil {
		startingPlayer = starter.DisplayName()
	}

	scene, err := s.completer.Complete(ctx, narrative.InitialScenePrompt(game.SetupText, game.Name, universe, startingPlayer))
	if err != nil {
		s.logger.Warn("生成开场场景失败", zap.Uint("game_id", game.ID), zap.Error(err))
		return
	}
	scene = strings.TrimSpace(scene)
	if scene == "" {
		return
	}
	if err := s.store.Chats().Create(ctx, &models.ChatMessage{
		GameID:  game.ID,
		Sender:  models.SenderGM,
		Message: scene,
	}); err != nil {
		s.logger.Error("保存开场场景失败", zap.Uint("game_id", game.ID), zap.Error(err))
	}
}

// Get 获取游戏详情
func (s *gameService) Get(ctx context.Context, gameID uint) (*GameDetail, error) {
	game, err := s.store.Games().FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	universeIDs, err := s.store.Universes().UniverseIDsOfGame(ctx, gameID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	players, err := s.store.Games().Players(ctx, gameID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	detail := &GameDetail{Game: game, UniverseIDs: universeIDs, Players: make([]*models.Character, 0, len(players))}
	for _, p := range players {
		if p.Character != nil {
			detail.Players = append(detail.Players, p.Character)
		}
	}
	return detail, nil
}

// List 分页列出游戏，status为空时不过滤
func (s *gameService) List(ctx context.Context, page, pageSize int, status models.GameStatus) ([]*models.Game, error) {
	games, err := s.store.Games().List(ctx, repository.NewPagination(page, pageSize), status)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return games, nil
}

// Join 角色加入游戏，重复加入静默成功
// 角色已在其他未结束的游戏中时返回 ErrCharacterInActiveGame
func (s *gameService) Join(ctx context.Context, gameID, characterID uint) (*models.Game, error) {
	game, err := s.store.Games().FindByID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if game.IsTerminal() {
		return nil, apperrors.Newf(apperrors.ErrGameTerminal, "游戏 %d 状态为 %s", gameID, game.Status)
	}
	if _, err := s.availableCharacter(ctx, characterID, gameID); err != nil {
		return nil, err
	}
	if err := s.store.Games().AddPlayer(ctx, gameID, characterID); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseInsert)
	}
	return game, nil
}

// availableCharacter 角色存在且没有参与gameID以外的未结束游戏
func (s *gameService) availableCharacter(ctx context.Context, characterID, gameID uint) (*models.Character, error) {
	character, err := s.store.Users().FindCharacter(ctx, characterID)
	if err != nil {
		return nil, err
	}
	open, err := s.store.Games().OpenGamesOfCharacter(ctx, characterID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	for _, g := range open {
		if g.ID != gameID {
			return nil, apperrors.Newf(apperrors.ErrCharacterInActiveGame, "角色 %d 正在游戏 %d 中", characterID, g.ID)
		}
	}
	return character, nil
}

// Messages 游戏的全部聊天记录，终态游戏同样可读
func (s *gameService) Messages(ctx context.Context, gameID uint) ([]*models.ChatMessage, error) {
	if _, err := s.store.Games().FindByID(ctx, gameID); err != nil {
		return nil, err
	}
	messages, err := s.store.Chats().ListByGame(ctx, gameID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return messages, nil
}

// Branch 校验分组后拆分游戏
func (s *gameService) Branch(ctx context.Context, gameID uint, groups []engine.BranchGroup) (*engine.BranchResult, error) {
	if _, err := s.store.Games().FindByID(ctx, gameID); err != nil {
		return nil, err
	}
	players, err := s.store.Games().PlayerCharacterIDs(ctx, gameID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if err := engine.ValidatePartition(players, groups); err != nil {
		return nil, err
	}
	return s.brancher.Branch(ctx, gameID, groups)
}

// Close 结束游戏
func (s *gameService) Close(ctx context.Context, gameID uint) error {
	return s.lifecycle.Close(ctx, gameID)
}

// GenerateSetup 根据宇宙、设定检索结果和最近新闻生成新游戏设定
func (s *gameService) GenerateSetup(ctx context.Context, req *GenerateSetupRequest) (string, error) {
	universe, err := s.store.Universes().FindByID(ctx, req.UniverseID)
	if err != nil {
		return "", err
	}
	if universe.RulesetID == nil {
		return "", apperrors.Newf(apperrors.ErrNoRuleset, "宇宙 %d 未关联规则集", universe.ID)
	}

	var chunks []string
	if s.retriever != nil {
		query := narrative.SetupQuery(universe.Name, universe.Description, req.GameDescription)
		chunks, err = s.retriever.RetrieveChunks(ctx, *universe.RulesetID, query, s.loreTopK())
		if err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrLoreUnavailable)
		}
	}

	news, err := s.store.News().Recent(ctx, []uint{universe.ID}, setupNewsItems)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	prompt := narrative.SetupPrompt(universe.Name, universe.Description, req.GameDescription, chunks, news)
	setup, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	setup = strings.TrimSpace(setup)
	if setup == "" {
		return "", apperrors.New(apperrors.ErrUpstreamUnavailable, "模型未返回游戏设定")
	}
	return setup, nil
}

func (s *gameService) loreTopK() int {
	if s.cfg.LoreTopK > 0 {
		return s.cfg.LoreTopK
	}
	return 5
}
