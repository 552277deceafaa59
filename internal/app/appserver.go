package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"nodesync/internal/service/web"
	"nodesync/internal/shared/config"
	"nodesync/internal/shared/logger"
	"nodesync/internal/shared/metrics"
	"nodesync/internal/shared/types"
	"nodesync/nodepool/fetcher"
	"nodesync/nodepool/parser"
	"nodesync/nodepool/storage"
	"nodesync/nodepool/updater"
)

const shutdownTimeout = 10 * time.Second

// AppServer 组装存储、抓取器、更新器与 Web 服务，并管理它们的生命周期。
type AppServer struct {
	cfg     *types.Config
	store   storage.Store
	metrics *metrics.Metrics
	hub     *web.Hub
	updater *updater.Updater
	web     *web.Server
}

// New 根据配置构建 AppServer。store 由调用方打开，所有权移交给 AppServer。
func New(cfg *types.Config, store storage.Store) (*AppServer, error) {
	f, err := fetcher.New(cfg.FetcherConf)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	s := &AppServer{
		cfg:     cfg,
		store:   store,
		metrics: metrics.New(),
		hub:     web.NewHub(),
	}
	s.updater = updater.New(updater.Options{
		Run:           RunConfigFrom(cfg),
		Store:         store,
		Fetcher:       f,
		Parser:        parser.Parser{StrictUUID: cfg.UpdaterConf.StrictUUID},
		Metrics:       s.metrics,
		Observer:      s.hub,
		FetchInterval: time.Duration(cfg.UpdaterConf.FetchIntervalMs) * time.Millisecond,
		Schedule:      time.Duration(cfg.UpdaterConf.ScheduleMinutes) * time.Minute,
		ListKey:       cfg.StoreConf.ListKey,
		IndexKey:      cfg.StoreConf.IndexKey,
	})

	handler := web.NewHandler(s.updater, store, cfg.StoreConf.ListKey, cfg.StoreConf.IndexKey)
	s.web = web.NewServer(cfg.WebConf, handler, s.hub, s.metrics.Handler())
	return s, nil
}

// RunConfigFrom 从进程配置中取出单次运行所需的参数。
func RunConfigFrom(cfg *types.Config) updater.RunConfig {
	return updater.RunConfig{
		SourceURL:  cfg.UpdaterConf.SourceURL,
		FetchCount: config.ParseFetchCount(cfg.UpdaterConf.FetchCount),
	}
}

// RunOnce 同步执行一次更新，然后释放资源。
func (s *AppServer) RunOnce(ctx context.Context) (updater.Result, error) {
	res, err := s.updater.Run(ctx, updater.TriggerOnce)
	return res, multierr.Append(err, s.Stop())
}

// Run 启动调度器与 Web 服务，阻塞到 ctx 结束或服务出错。
func (s *AppServer) Run(ctx context.Context) error {
	l := logger.WithComponent("App")
	l.Info().Msg("Starting nodesync...")

	go s.hub.Run()
	s.updater.Start()
	if s.cfg.UpdaterConf.RunOnStart {
		s.updater.Trigger(updater.TriggerStartup)
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.WebConf.Port > 0 {
		g.Go(s.web.ListenAndServe)
	} else {
		l.Warn().Msg("Web server is disabled (web port is 0 or not set).")
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.web.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	l.Info().Msg("Shutting down...")
	return multierr.Append(err, s.Stop())
}

// Stop 停止调度器、等待进行中的运行，然后关闭 Hub 与存储。
func (s *AppServer) Stop() error {
	s.updater.Stop()
	s.hub.Stop()
	return s.store.Close()
}

// Updater 返回内部的 Updater，主要用于测试。
func (s *AppServer) Updater() *updater.Updater {
	return s.updater
}
