package narrative

import (
	"context"
	"fmt"
	"strings"

	"github.com/wfunc/influence-rpg/internal/config"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/engine"
	"github.com/wfunc/influence-rpg/internal/llm"
	"github.com/wfunc/influence-rpg/internal/lore"
	"github.com/wfunc/influence-rpg/internal/repository"
	"github.com/wfunc/influence-rpg/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Brancher 分支执行
type Brancher interface {
	Branch(ctx context.Context, gameID uint, groups []engine.BranchGroup) (*engine.BranchResult, error)
}

// Hooks 工具执行回调
type Hooks struct {
	// OnDice 每次掷骰后调用，在最终叙事之前持久化结果
	OnDice func(ctx context.Context, result DiceResult) error
}

// Outcome 一个GM回合的结果
type Outcome struct {
	Narrative string
	Rounds    int
	Mode      Mode
	Dice      []DiceResult
	Lore      []string
	Branch    *engine.BranchResult
}

// Planner 工具调用循环
type Planner struct {
	completer llm.Completer
	retriever lore.Retriever
	brancher  Brancher
	repos     repository.Repositories
	roller    *Roller
	maxRounds int
	loreTopK  int
	maxDice   int
	maxSides  int
	logger    *zap.Logger
}

// NewPlanner 创建工具调用循环
func NewPlanner(completer llm.Completer, retriever lore.Retriever, brancher Brancher, repos repository.Repositories, cfg config.NarrativeConfig, log *zap.Logger) *Planner {
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = 4
	}
	topK := cfg.LoreTopK
	if topK <= 0 {
		topK = 5
	}
	maxDice := cfg.MaxDice
	if maxDice <= 0 {
		maxDice = DefaultMaxDice
	}
	maxSides := cfg.MaxDiceSides
	if maxSides <= 0 {
		maxSides = DefaultMaxSides
	}
	return &Planner{
		completer: completer,
		retriever: retriever,
		brancher:  brancher,
		repos:     repos,
		roller:    defaultRoller,
		maxRounds: rounds,
		loreTopK:  topK,
		maxDice:   maxDice,
		maxSides:  maxSides,
		logger:    log,
	}
}

// SetRoller 替换掷骰器
func (p *Planner) SetRoller(r *Roller) {
	p.roller = r
}

// CompleteWithPlan 请求计划+叙事并解析
// 格式错误的输出视为没有工具调用，只保留可取出的narrative字段
func (p *Planner) CompleteWithPlan(ctx context.Context, prompt string) (string, PlanResult, error) {
	raw, err := p.completer.Complete(ctx, prompt)
	if err != nil {
		return "", PlanResult{}, err
	}
	plan := DecodePlan(raw)
	if plan.Kind == PlanInvalid {
		p.logger.Warn("工具计划无法解析，忽略工具调用", zap.String("raw", raw), zap.Error(plan.Err))
	}
	return plan.Narrative, plan, nil
}

// Run 执行回合：组装、请求、执行工具，直到没有工具调用
// 分支成功后立即结束
func (p *Planner) Run(ctx context.Context, turn *Turn, hooks Hooks) (*Outcome, error) {
	ctx, span := telemetry.Tracer("narrative").Start(ctx, "narrative.turn")
	defer span.End()
	gameID := turn.GameID()
	span.SetAttributes(attribute.Int("game.id", int(gameID)))

	out := &Outcome{}
	var results []string

	for out.Rounds < p.maxRounds {
		prompt, err := turn.Build(ctx, results)
		if err != nil {
			return nil, err
		}
		out.Mode = prompt.Mode

		narrative, plan, err := p.CompleteWithPlan(ctx, prompt.Text)
		if err != nil {
			return nil, err
		}
		out.Rounds++
		if narrative != "" {
			out.Narrative = narrative
		}
		if plan.Kind != PlanOK {
			break
		}

		if call := plan.Tools.Dice; call != nil {
			n, sides := p.diceArgs(call)
			result := p.roller.Roll(n, sides)
			out.Dice = append(out.Dice, result)
			results = append(results, result.String())
			if hooks.OnDice != nil {
				if err := hooks.OnDice(ctx, result); err != nil {
					return nil, err
				}
			}
		}

		if call := plan.Tools.Lore; call != nil {
			chunks := p.lookup(ctx, gameID, call)
			turn.AddLore(chunks...)
			out.Lore = append(out.Lore, chunks...)
			results = append(results, fmt.Sprintf("Lore lookup %q: %d passage(s) added to Known Lore.", call.Query, len(chunks)))
		}

		if call := plan.Tools.Branch; call != nil {
			result, err := p.branch(ctx, gameID, call)
			if err == nil {
				out.Branch = result
				break
			}
			if !apperrors.Is(err, apperrors.ErrInvalidPartition) && !apperrors.Is(err, apperrors.ErrGameTerminal) {
				return nil, err
			}
			p.logger.Warn("分支请求被拒绝", zap.Uint("game_id", gameID), zap.Error(err))
			results = append(results, "Branch rejected: "+err.Error())
		}
	}

	span.SetAttributes(attribute.Int("rounds", out.Rounds), attribute.String("mode", string(out.Mode)))
	if out.Narrative != "" {
		return out, nil
	}

	prompt, err := turn.BuildPlain(ctx, results)
	if err != nil {
		return nil, err
	}
	text, err := p.completer.Complete(ctx, prompt.Text)
	if err != nil {
		return nil, err
	}
	out.Mode = prompt.Mode
	out.Narrative = strings.TrimSpace(text)
	return out, nil
}

// diceArgs 缺省面数为d20，数量和面数限制在[1, 上限]
func (p *Planner) diceArgs(call *DiceCall) (int, int) {
	n, sides := call.NumRolls, DefaultSides
	if call.Sides != nil {
		sides = *call.Sides
	}
	if n > p.maxDice {
		p.logger.Warn("掷骰数量超过上限", zap.Int("requested", n), zap.Int("max", p.maxDice))
		n = p.maxDice
	}
	if sides > p.maxSides {
		p.logger.Warn("骰子面数超过上限", zap.Int("requested", sides), zap.Int("max", p.maxSides))
		sides = p.maxSides
	}
	return max(n, 1), max(sides, 1)
}

// lookup 检索游戏所在宇宙规则集的设定，失败时返回空
func (p *Planner) lookup(ctx context.Context, gameID uint, call *LoreCall) []string {
	if p.retriever == nil || strings.TrimSpace(call.Query) == "" {
		return nil
	}
	universes, err := p.repos.Universes().UniversesOfGame(ctx, gameID)
	if err != nil {
		p.logger.Warn("读取游戏宇宙失败", zap.Uint("game_id", gameID), zap.Error(err))
		return nil
	}
	var rulesetID uint
	for _, u := range universes {
		if u.RulesetID != nil {
			rulesetID = *u.RulesetID
			break
		}
	}
	if rulesetID == 0 {
		return nil
	}

	topK := call.TopK
	if topK <= 0 {
		topK = p.loreTopK
	}
	chunks, err := p.retriever.RetrieveChunks(ctx, rulesetID, call.Query, topK)
	if err != nil {
		p.logger.Warn("设定检索失败", zap.Uint("ruleset_id", rulesetID), zap.Error(err))
		return nil
	}
	return chunks
}

func (p *Planner) branch(ctx context.Context, gameID uint, call *BranchCall) (*engine.BranchResult, error) {
	if p.brancher == nil {
		return nil, apperrors.New(apperrors.ErrInvalidPartition, "分支不可用")
	}
	players, err := p.repos.Games().PlayerCharacterIDs(ctx, gameID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if err := engine.ValidatePartition(players, call.Groups); err != nil {
		return nil, err
	}
	return p.brancher.Branch(ctx, gameID, call.Groups)
}
