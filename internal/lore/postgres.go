package lore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/wfunc/influence-rpg/internal/errors"
)

// Postgres 基于PostgreSQL全文检索的检索器
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres 创建连接池并检查连通性
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperrors.Wrap(fmt.Errorf("creating postgres pool: %w", err), apperrors.ErrLoreUnavailable)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(fmt.Errorf("pinging postgres: %w", err), apperrors.ErrLoreUnavailable)
	}
	return &Postgres{pool: pool}, nil
}

// Close 关闭连接池
func (p *Postgres) Close() {
	p.pool.Close()
}

const searchChunksSQL = `
SELECT content
FROM ruleset_chunks
WHERE ruleset_id = $1
  AND to_tsvector('english', content) @@ websearch_to_tsquery('english', $2)
ORDER BY ts_rank(to_tsvector('english', content), websearch_to_tsquery('english', $2)) DESC, ordinal ASC
LIMIT $3
`

const firstChunksSQL = `
SELECT content
FROM ruleset_chunks
WHERE ruleset_id = $1
ORDER BY ordinal ASC
LIMIT $2
`

// RetrieveChunks 按ts_rank排序返回topK切片，查询为空时按原始顺序返回
func (p *Postgres) RetrieveChunks(ctx context.Context, rulesetID uint, query string, topK int) ([]string, error) {
	if topK <= 0 {
		return []string{}, nil
	}

	var (
		out []string
		err error
	)
	if strings.TrimSpace(query) == "" {
		out, err = p.query(ctx, firstChunksSQL, rulesetID, topK)
	} else {
		out, err = p.query(ctx, searchChunksSQL, rulesetID, query, topK)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrLoreUnavailable)
	}
	return out, nil
}

func (p *Postgres) query(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out = append(out, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return out, nil
}
