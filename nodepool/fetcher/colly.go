package fetcher

import (
	"context"
	"fmt"

	"github.com/gocolly/colly/v2"

	"nodesync/internal/shared/types"
)

// CollyFetcher 使用 colly 抓取订阅。每次 Fetch 都新建 collector，
// 避免回调在多次调用间累积。
type CollyFetcher struct {
	cfg types.FetcherConf
}

func NewCollyFetcher(cfg types.FetcherConf) (*CollyFetcher, error) {
	// 提前校验代理配置，避免每次请求才发现错误。
	if _, err := newCollector(cfg); err != nil {
		return nil, err
	}
	return &CollyFetcher{cfg: cfg}, nil
}

func newCollector(cfg types.FetcherConf) (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.UserAgent(userAgentOf(cfg)),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(timeoutOf(cfg))
	if cfg.MaxBodyBytes > 0 {
		// colly 超限时静默截断；多读一个字节以便识别超限。
		c.MaxBodySize = int(cfg.MaxBodyBytes + 1)
	}
	if cfg.ProxyURL != "" {
		if err := c.SetProxy(cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("unsupported proxy_url: %w", err)
		}
	}
	return c, nil
}

func (f *CollyFetcher) Name() string {
	return "colly"
}

func (f *CollyFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := newCollector(f.cfg)
	if err != nil {
		return "", err
	}

	var body string
	var statusCode int
	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		statusCode = r.StatusCode
	})

	if err := c.Visit(url); err != nil {
		if statusCode != 0 {
			return "", &StatusError{StatusCode: statusCode, URL: url}
		}
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	c.Wait()

	if statusCode < 200 || statusCode >= 300 {
		return "", &StatusError{StatusCode: statusCode, URL: url}
	}
	if limit := f.cfg.MaxBodyBytes; limit > 0 && int64(len(body)) > limit {
		return "", fmt.Errorf("%w (>%d bytes)", errBodyTooLarge, limit)
	}
	return body, nil
}
