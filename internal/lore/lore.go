// Package lore 规则集设定检索
package lore

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/wfunc/influence-rpg/internal/config"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
	"github.com/wfunc/influence-rpg/internal/repository"
)

// Retriever 按查询返回规则集中最相关的切片
type Retriever interface {
	RetrieveChunks(ctx context.Context, rulesetID uint, query string, topK int) ([]string, error)
}

// New 按配置创建检索器
func New(ctx context.Context, cfg config.LoreConfig, rulesets repository.RulesetRepository) (Retriever, func(), error) {
	switch cfg.Driver {
	case "postgres":
		r, err := NewPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, func() {}, err
		}
		return r, r.Close, nil
	case "", "database":
		return NewDatabase(rulesets), func() {}, nil
	default:
		return nil, func() {}, apperrors.Newf(apperrors.ErrConfigValidate, "未知的lore驱动: %s", cfg.Driver)
	}
}

// Database 基于关键词重合度的检索器，适用于所有数据库驱动
type Database struct {
	rulesets repository.RulesetRepository
}

// NewDatabase 创建关键词检索器
func NewDatabase(rulesets repository.RulesetRepository) *Database {
	return &Database{rulesets: rulesets}
}

// RetrieveChunks 按命中词数降序返回topK切片，同分按原始顺序
func (d *Database) RetrieveChunks(ctx context.Context, rulesetID uint, query string, topK int) ([]string, error) {
	if topK <= 0 {
		return []string{}, nil
	}
	chunks, err := d.rulesets.Chunks(ctx, rulesetID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrLoreUnavailable)
	}

	terms := Terms(query)
	type scored struct {
		content string
		ordinal int
		score   int
	}
	ranked := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		words := make(map[string]struct{})
		for _, w := range Terms(c.Content) {
			words[w] = struct{}{}
		}
		score := 0
		for _, t := range terms {
			if _, ok := words[t]; ok {
				score++
			}
		}
		ranked = append(ranked, scored{content: c.Content, ordinal: c.Ordinal, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].ordinal < ranked[j].ordinal
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.content
	}
	return out, nil
}

// Terms 小写分词并去重，丢弃短词
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
