package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/wfunc/influence-rpg/internal/config"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var configPath string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// newRootCommand 构建命令树
func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "influence-rpg",
		Short:         "多人叙事跑团游戏后端",
		Long:          "由语言模型主持的多人跑团游戏后端，提供REST与WebSocket接口、新闻巡检worker以及MCP工具服务。",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径 (默认查找 ./config/config.yaml)")

	root.AddCommand(
		newServeCommand(),
		newWorkerCommand(),
		newMCPCommand(),
		newMigrateCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("Influence RPG 游戏服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printStartInfo 打印启动信息
func printStartInfo(cfg *config.Config, mode string) {
	banner := `
╔═══════════════════════════════════════════════════════════════╗
║                                                               ║
║     ___        __ _                                           ║
║    |_ _|_ __  / _| |_   _  ___ _ __   ___ ___                 ║
║     | || '_ \| |_| | | | |/ _ \ '_ \ / __/ _ \                ║
║     | || | | |  _| | |_| |  __/ | | | (_|  __/                ║
║    |___|_| |_|_| |_|\__,_|\___|_| |_|\___\___|                ║
║                                                               ║
║                   多人叙事跑团游戏服务器                      ║
║                                                               ║
╚═══════════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
	fmt.Printf("版本: %s | 模式: %s | 运行: %s | PID: %d\n", Version, cfg.Server.Mode, mode, os.Getpid())
	fmt.Printf("模型: %s/%s | 数据库: %s\n", cfg.LLM.Provider, cfg.LLM.Model, cfg.Database.Driver)
	fmt.Println("═══════════════════════════════════════════════════════════════")
}
