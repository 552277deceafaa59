package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"nodesync/internal/shared/logger"
	"nodesync/internal/shared/types"
)

// loggingListener logs accepted connections at debug level.
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Str("remote_addr", conn.RemoteAddr().String()).Msg("WebServer: connection accepted")
	}
	return conn, err
}

// basicAuthMiddleware 检查 user 和 pass 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Server 提供触发接口、管理 API、WebSocket 与 /metrics。
type Server struct {
	cfg types.WebConf
	srv *http.Server
}

func NewServer(cfg types.WebConf, handler *Handler, hub *Hub, metricsHandler http.Handler) *Server {
	mux := http.NewServeMux()

	// 认证保护的 API
	mux.Handle("/api/nodes", basicAuthMiddleware(http.HandlerFunc(handler.HandleNodes), cfg.User, cfg.Password))
	mux.Handle("/api/status", basicAuthMiddleware(http.HandlerFunc(handler.HandleStatus), cfg.User, cfg.Password))
	if metricsHandler != nil {
		mux.Handle("/metrics", basicAuthMiddleware(metricsHandler, cfg.User, cfg.Password))
	}

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	// 其余路径都是触发端点，行为只取决于 run 参数。
	mux.HandleFunc("/", handler.HandleTrigger)

	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler 返回路由，主要用于测试。
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe 在配置的端口上监听，直到 Shutdown 被调用。
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start web server on %s: %w", addr, err)
	}
	logger.Info().Msgf("Web server is listening on http://%s", addr)
	return s.Serve(listener)
}

// Serve 在给定 listener 上提供服务。正常关闭时返回 nil。
func (s *Server) Serve(listener net.Listener) error {
	err := s.srv.Serve(loggingListener{Listener: listener})
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info().Msg("Web server stopped.")
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
