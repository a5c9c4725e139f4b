package narrative

import (
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/wfunc/influence-rpg/internal/engine"
	"github.com/wfunc/influence-rpg/internal/llm"
)

// PlanKind 计划解析结果类型
type PlanKind int

const (
	// PlanNone 只有叙事（包括纯文本回复）
	PlanNone PlanKind = iota
	// PlanOK 包含工具调用
	PlanOK
	// PlanInvalid JSON格式错误或不符合schema
	PlanInvalid
)

// String 结果类型名
func (k PlanKind) String() string {
	switch k {
	case PlanOK:
		return "ok"
	case PlanInvalid:
		return "invalid"
	default:
		return "none"
	}
}

// DiceCall 掷骰工具参数，Sides缺省时为d20
type DiceCall struct {
	NumRolls int  `json:"num_rolls"`
	Sides    *int `json:"sides,omitempty"`
}

// LoreCall 设定检索工具参数
type LoreCall struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// BranchCall 分支工具参数
type BranchCall struct {
	Groups []engine.BranchGroup `json:"groups"`
}

// ToolCalls 一轮中请求的工具
type ToolCalls struct {
	Dice   *DiceCall   `json:"dice,omitempty"`
	Lore   *LoreCall   `json:"lore,omitempty"`
	Branch *BranchCall `json:"branch,omitempty"`
}

// Empty 是否没有请求任何工具
func (t ToolCalls) Empty() bool {
	return t.Dice == nil && t.Lore == nil && t.Branch == nil
}

// PlanResult 模型回复的解析结果
type PlanResult struct {
	Kind      PlanKind
	Narrative string
	Tools     ToolCalls
	Raw       string
	Err       error
}

type planWire struct {
	Narrative string      `json:"narrative"`
	ToolCalls *ToolCalls  `json:"tool_calls"`
	Dice      *DiceCall   `json:"dice"`
	Lore      *LoreCall   `json:"lore"`
	Branch    *BranchCall `json:"branch"`
}

func integer() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer"}
}

func str() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string"}
}

func toolProperties() map[string]*jsonschema.Schema {
	return map[string]*jsonschema.Schema{
		"dice": {
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"num_rolls": integer(),
				"sides":     integer(),
			},
		},
		"lore": {
			Type:     "object",
			Required: []string{"query"},
			Properties: map[string]*jsonschema.Schema{
				"query": str(),
				"top_k": integer(),
			},
		},
		"branch": {
			Type:     "object",
			Required: []string{"groups"},
			Properties: map[string]*jsonschema.Schema{
				"groups": {
					Type: "array",
					Items: &jsonschema.Schema{
						Type:     "object",
						Required: []string{"character_ids"},
						Properties: map[string]*jsonschema.Schema{
							"character_ids": {Type: "array", Items: integer()},
							"description":   str(),
						},
					},
				},
			},
		},
	}
}

func planSchema() *jsonschema.Schema {
	props := toolProperties()
	props["narrative"] = str()
	props["tool_calls"] = &jsonschema.Schema{Types: []string{"object", "null"}, Properties: toolProperties()}
	return &jsonschema.Schema{Type: "object", Properties: props}
}

var planResolved = llm.MustResolve(planSchema())

// DecodePlan 解析模型的计划+叙事回复
// 接受 {"narrative","tool_calls"} 或裸工具表，纯文本视为只有叙事
func DecodePlan(raw string) PlanResult {
	text := llm.StripFences(raw)
	if !strings.HasPrefix(text, "{") {
		return PlanResult{Kind: PlanNone, Narrative: strings.TrimSpace(raw), Raw: raw}
	}

	var wire planWire
	if err := llm.DecodeStrict(text, planResolved, &wire); err != nil {
		return PlanResult{Kind: PlanInvalid, Narrative: recoverNarrative(text), Raw: raw, Err: err}
	}

	tools := ToolCalls{Dice: wire.Dice, Lore: wire.Lore, Branch: wire.Branch}
	if wire.ToolCalls != nil && !wire.ToolCalls.Empty() {
		tools = *wire.ToolCalls
	}

	result := PlanResult{Narrative: strings.TrimSpace(wire.Narrative), Tools: tools, Raw: raw}
	if tools.Empty() {
		result.Kind = PlanNone
	} else {
		result.Kind = PlanOK
	}
	return result
}

// recoverNarrative 计划不合法时只取出字符串类型的narrative字段，取不到时为空
func recoverNarrative(text string) string {
	var loose struct {
		Narrative json.RawMessage `json:"narrative"`
	}
	if err := json.Unmarshal([]byte(text), &loose); err != nil || len(loose.Narrative) == 0 {
		return ""
	}
	var narrative string
	if err := json.Unmarshal(loose.Narrative, &narrative); err != nil {
		return ""
	}
	return strings.TrimSpace(narrative)
}
