package mcp

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/wfunc/influence-rpg/internal/engine"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/models"
	"github.com/wfunc/influence-rpg/internal/narrative"
	"go.uber.org/zap"
)

const (
	maxDice        = narrative.DefaultMaxDice
	maxSides       = narrative.DefaultMaxSides
	defaultTopK    = 5
	defaultEvents  = 50
	maxEventsLimit = 500
)

type RollDiceInput struct {
	NumRolls int `json:"num_rolls,omitempty" jsonschema:"number of dice, defaults to 1"`
	Sides    int `json:"sides,omitempty" jsonschema:"sides per die, defaults to 20"`
}

type RetrieveLoreInput struct {
	UniverseID uint   `json:"universe_id" jsonschema:"universe whose ruleset is searched"`
	Query      string `json:"query" jsonschema:"search terms"`
	TopK       int    `json:"top_k,omitempty" jsonschema:"maximum chunks to return, defaults to 5"`
}

type RetrieveLoreOutput struct {
	RulesetID uint     `json:"ruleset_id"`
	Chunks    []string `json:"chunks"`
}

type ListEventsInput struct {
	UniverseID uint `json:"universe_id" jsonschema:"universe id"`
	Limit      int  `json:"limit,omitempty" jsonschema:"maximum recent events, oldest first, defaults to 50"`
}

type EventOutput struct {
	ID        uint           `json:"id"`
	GameID    uint           `json:"game_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt string         `json:"created_at"`
	Line      string         `json:"line"`
}

type ListEventsOutput struct {
	Events []EventOutput `json:"events"`
}

type DetectConflictsInput struct {
	UniverseID uint `json:"universe_id" jsonschema:"universe to scan for contradictions between games"`
}

type DetectConflictsOutput struct {
	Conflicts []engine.DetectedConflict `json:"conflicts"`
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "roll_dice",
		Description: "Roll num_rolls dice with the given number of sides",
	}, s.handleRollDice)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "retrieve_lore",
		Description: "Retrieve ruleset excerpts for a universe that match a query",
	}, s.handleRetrieveLore)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "list_events",
		Description: "List the most recent universe events in chronological order",
	}, s.handleListEvents)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "detect_conflicts",
		Description: "Detect contradictions between the active games of a universe and merge them",
	}, s.handleDetectConflicts)
}

func (s *Server) handleRollDice(ctx context.Context, req *sdk.CallToolRequest, input RollDiceInput) (*sdk.CallToolResult, narrative.DiceResult, error) {
	n, sides := input.NumRolls, input.Sides
	if n == 0 {
		n = 1
	}
	if sides == 0 {
		sides = narrative.DefaultSides
	}
	if n < 0 || n > maxDice {
		return nil, narrative.DiceResult{}, fmt.Errorf("num_rolls must be between 1 and %d", maxDice)
	}
	if sides < 0 || sides > maxSides {
		return nil, narrative.DiceResult{}, fmt.Errorf("sides must be between 1 and %d", maxSides)
	}

	var result narrative.DiceResult
	if s.roller != nil {
		result = s.roller.Roll(n, sides)
	} else {
		result = narrative.Roll(n, sides)
	}
	return nil, result, nil
}

func (s *Server) handleRetrieveLore(ctx context.Context, req *sdk.CallToolRequest, input RetrieveLoreInput) (*sdk.CallToolResult, RetrieveLoreOutput, error) {
	if input.Query == "" {
		return nil, RetrieveLoreOutput{}, fmt.Errorf("query is required")
	}
	universe, err := s.universes.FindByID(ctx, input.UniverseID)
	if err != nil {
		return nil, RetrieveLoreOutput{}, err
	}
	if universe.RulesetID == nil {
		return nil, RetrieveLoreOutput{}, fmt.Errorf("universe %d has no ruleset", universe.ID)
	}
	topK := input.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	chunks, err := s.retriever.RetrieveChunks(ctx, *universe.RulesetID, input.Query, topK)
	if err != nil {
		return nil, RetrieveLoreOutput{}, err
	}
	return nil, RetrieveLoreOutput{RulesetID: *universe.RulesetID, Chunks: chunks}, nil
}

func (s *Server) handleListEvents(ctx context.Context, req *sdk.CallToolRequest, input ListEventsInput) (*sdk.CallToolResult, ListEventsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultEvents
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	events, err := s.events.Recent(ctx, input.UniverseID, limit)
	if err != nil {
		return nil, ListEventsOutput{}, err
	}
	output := make([]EventOutput, 0, len(events))
	for _, e := range events {
		output = append(output, EventOutput{
			ID:        e.ID,
			GameID:    e.GameID,
			Type:      string(e.EventType),
			Payload:   models.DecodeMap(e.Payload),
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
			Line:      eventlog.FormatLine(e),
		})
	}
	return nil, ListEventsOutput{Events: output}, nil
}

func (s *Server) handleDetectConflicts(ctx context.Context, req *sdk.CallToolRequest, input DetectConflictsInput) (*sdk.CallToolResult, DetectConflictsOutput, error) {
	if _, err := s.universes.FindByID(ctx, input.UniverseID); err != nil {
		return nil, DetectConflictsOutput{}, err
	}
	conflicts, err := s.detector.Detect(ctx, input.UniverseID)
	if err != nil {
		return nil, DetectConflictsOutput{}, err
	}
	s.logger.Info("MCP冲突检测完成",
		zap.Uint("universe_id", input.UniverseID),
		zap.Int("conflicts", len(conflicts)))
	if conflicts == nil {
		conflicts = []engine.DetectedConflict{}
	}
	return nil, DetectConflictsOutput{Conflicts: conflicts}, nil
}
