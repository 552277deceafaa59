// Package fetcher retrieves subscription documents over HTTP.
package fetcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nodesync/internal/shared/types"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36"

// Fetcher 定义了一次订阅抓取的行为。每次调用都是一次独立的请求，不做重试。
type Fetcher interface {
	// Fetch 返回响应正文。非 2xx 状态返回 *StatusError。
	Fetch(ctx context.Context, url string) (string, error)

	// Name 返回抓取器的名称，用于日志记录。
	Name() string
}

// StatusError 表示上游返回了非成功状态码。
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received non-2xx status code (%d) from %s", e.StatusCode, e.URL)
}

// New 根据配置创建抓取器。
func New(cfg types.FetcherConf) (Fetcher, error) {
	switch strings.ToLower(cfg.Engine) {
	case "", "http":
		return NewHTTPFetcher(cfg)
	case "colly":
		return NewCollyFetcher(cfg)
	default:
		return nil, fmt.Errorf("unknown fetcher engine %q", cfg.Engine)
	}
}

func timeoutOf(cfg types.FetcherConf) time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}

func userAgentOf(cfg types.FetcherConf) string {
	if cfg.UserAgent == "" {
		return defaultUserAgent
	}
	return cfg.UserAgent
}
