package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"nodesync/internal/app"
	"nodesync/internal/shared/config"
	"nodesync/internal/shared/logger"
	"nodesync/internal/shared/types"
	"nodesync/nodepool/storage"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	once := flag.Bool("once", false, "Run the update pipeline once and exit")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "nodesync.ini")

	// 1. 加载 .ini 配置（含环境变量覆盖）
	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. 打开存储
	store, err := storage.Open(ctx, cfg.StoreConf)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreConf.Backend).Msg("Failed to open store")
	}

	// 3. 创建并运行服务器
	appServer, err := app.New(cfg, store)
	if err != nil {
		_ = store.Close()
		logger.Fatal().Err(err).Msg("Failed to create app server")
	}

	if *once {
		res, err := appServer.RunOnce(ctx)
		if err != nil {
			logger.Error().Err(err).Str("run_id", res.RunID).Msg("Update run failed.")
			os.Exit(1)
		}
		logger.Info().Str("run_id", res.RunID).Int("nodes", res.Nodes).Bool("persisted", res.Persisted).Msg("Update run finished.")
		return
	}

	if err := appServer.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("nodesync exited with error")
		os.Exit(1)
	}
}
