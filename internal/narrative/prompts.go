// Package narrative GM回合的上下文组装、工具调用规划与执行
package narrative

import (
	"fmt"
	"strings"
	"time"

	"github.com/wfunc/influence-rpg/internal/models"
)

// DefaultTrigger /gm 后没有内容时使用的触发语
const DefaultTrigger = "Provide a narrative update."

// SummaryPromptPrefix 摘要提示词前缀
const SummaryPromptPrefix = "Please provide a concise summary of the following game chat:\n\n"

// ToolInstructions 联合计划+叙事请求的说明
const ToolInstructions = `You are the Game Master. Reply with ONLY a JSON object of the form
{"narrative": "<your narrative reply>", "tool_calls": {...}}.
Available tools (omit "tool_calls" or leave it empty when none is needed):
- "dice": {"num_rolls": <int>, "sides": <int>} rolls dice, e.g. {"dice": {"num_rolls": 1, "sides": 20}}
- "lore": {"query": "<text>", "top_k": <int>} looks up background lore from the ruleset
- "branch": {"groups": [{"character_ids": [<id>...], "description": "<text>"}]} splits the party into separate games; every player must be in exactly one group
Tool results are added to the context and you will be asked again.`

// NewsBlock 渲染新闻块，items需按时间从旧到新
func NewsBlock(items []*models.News, now time.Time) string {
	if len(items) == 0 {
		return ""
	}
	lines := []string{fmt.Sprintf("Recent Universe News (as of %s):", now.UTC().Format(time.RFC3339))}
	for i, item := range items {
		summary := strings.TrimSpace(strings.ReplaceAll(item.Summary, "\n", " "))
		lines = append(lines, fmt.Sprintf("%d) [%s] %s", i+1, item.PublishedAt.UTC().Format(time.RFC3339), summary))
	}
	return strings.Join(lines, "\n")
}

// LoreBlock 渲染已检索的设定
func LoreBlock(chunks []string) string {
	if len(chunks) == 0 {
		return ""
	}
	lines := []string{"Known Lore:"}
	for _, c := range chunks {
		lines = append(lines, "- "+strings.TrimSpace(c))
	}
	return strings.Join(lines, "\n")
}

// EntitiesBlock 渲染已知实体
func EntitiesBlock(entities []*models.NamedEntity) string {
	if len(entities) == 0 {
		return ""
	}
	lines := []string{"Known Entities:"}
	for _, e := range entities {
		line := "- " + e.Name
		if e.EntityType != "" {
			line += " (" + e.EntityType + ")"
		}
		if e.Description != "" {
			line += ": " + e.Description
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// SummaryPrompt 摘要提示词
func SummaryPrompt(convo string) string {
	return SummaryPromptPrefix + convo
}

// SetupPrompt 新游戏设定生成提示词
func SetupPrompt(universeName, universeDescription, gameDescription string, chunks []string, news []*models.News) string {
	var b strings.Builder
	b.WriteString("You are a game-creation assistant.\n")
	b.WriteString("Using the information below, produce an immersive, detailed game setup:\n\n")
	fmt.Fprintf(&b, "Universe: %s\n", universeName)
	fmt.Fprintf(&b, "Universe Description: %s\n\n", universeDescription)
	fmt.Fprintf(&b, "Game Description: %s\n\n", gameDescription)

	b.WriteString("Background Lore Excerpts (from the ruleset):\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, strings.TrimSpace(c))
	}
	if len(news) > 0 {
		b.WriteString("Recent Universe News:\n")
		for _, n := range news {
			fmt.Fprintf(&b, "- [%s] %s\n", n.PublishedAt.UTC().Format(time.RFC3339), strings.TrimSpace(n.Summary))
		}
		b.WriteString("\n")
	}
	b.WriteString("Expand and elaborate on the game setup, adhering closely to the Game Description above. " +
		"Integrate relevant details from the Background Lore Excerpts and respect any stipulations " +
		"or restrictions in the Universe Description. Be creative and ensure the final narrative " +
		"is cohesive, engaging, and faithful to the ruleset's lore.")
	return b.String()
}

// SetupQuery 设定检索使用的查询
func SetupQuery(universeName, universeDescription, gameDescription string) string {
	return fmt.Sprintf("%s: %s -- New Game: %s", universeName, universeDescription, gameDescription)
}

// InitialScenePrompt 新游戏开场提示词
func InitialScenePrompt(setup, gameName string, universe *models.Universe, startingPlayer string) string {
	universeName, universeDescription := "None", "None"
	rules := ""
	if universe != nil {
		universeName, universeDescription = universe.Name, universe.Description
		if universe.Ruleset != nil {
			rules = strings.TrimSpace(universe.Ruleset.Summary + "\n\n" + universe.Ruleset.LongSummary)
		}
	}

	meta := []string{
		"Game Name: " + gameName,
		"Universe: " + universeName,
		"Universe Description: " + universeDescription,
		"Starting Player: " + startingPlayer,
		"",
	}
	return "You are the Game Master AI for the Influence RPG.\n" +
		strings.Join(meta, "\n") +
		"\nBelow is the current game rule set (subject to updates during development):\n\n" +
		rules + "\n\n" +
		"The human GM has provided these setup details for this new game:\n\n" +
		setup + "\n\n" +
		"Based on the metadata, rules, and the setup, generate an initial narrative scene to start the adventure."
}
