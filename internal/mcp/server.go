// Package mcp 以MCP工具的形式暴露掷骰、设定检索、事件日志与冲突检测
package mcp

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/wfunc/influence-rpg/internal/eventlog"
	"github.com/wfunc/influence-rpg/internal/lore"
	"github.com/wfunc/influence-rpg/internal/narrative"
	"github.com/wfunc/influence-rpg/internal/repository"
	"github.com/wfunc/influence-rpg/internal/scheduler"
	"go.uber.org/zap"
)

// Deps 工具依赖
type Deps struct {
	Universes repository.UniverseRepository
	Retriever lore.Retriever
	Events    *eventlog.Log
	Detector  scheduler.ConflictDetector
	Roller    *narrative.Roller
	Logger    *zap.Logger
}

// Server MCP工具服务
type Server struct {
	universes repository.UniverseRepository
	retriever lore.Retriever
	events    *eventlog.Log
	detector  scheduler.ConflictDetector
	roller    *narrative.Roller
	logger    *zap.Logger
	mcp       *sdk.Server
}

// NewServer 创建MCP工具服务
func NewServer(deps Deps, version string) *Server {
	s := &Server{
		universes: deps.Universes,
		retriever: deps.Retriever,
		events:    deps.Events,
		detector:  deps.Detector,
		roller:    deps.Roller,
		logger:    deps.Logger,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "influence-rpg",
			Version: version,
		}, nil),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.registerTools()
	return s
}

// Run 在指定传输上提供服务，ctx取消或对端断开时返回
func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	s.logger.Info("MCP服务启动")
	return s.mcp.Run(ctx, transport)
}

// RunStdio 通过标准输入输出提供服务
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, &sdk.StdioTransport{})
}
