package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/proxy"

	"nodesync/internal/shared/types"
)

var errBodyTooLarge = errors.New("response body exceeds size limit")

// HTTPFetcher 使用 net/http 抓取订阅。
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	maxBytes    int64
	extractHTML bool
}

// NewHTTPFetcher 创建一个新的实例。proxy_url 支持 http(s):// 与 socks5://。
func NewHTTPFetcher(cfg types.FetcherConf) (*HTTPFetcher, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		if err := configureProxy(transport, cfg.ProxyURL); err != nil {
			return nil, err
		}
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   timeoutOf(cfg),
			Transport: transport,
		},
		userAgent:   userAgentOf(cfg),
		maxBytes:    cfg.MaxBodyBytes,
		extractHTML: cfg.ExtractHTML,
	}, nil
}

func configureProxy(transport *http.Transport, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid proxy_url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
		return nil
	}

	dialer, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return fmt.Errorf("unsupported proxy_url: %w", err)
	}
	transport.Proxy = nil
	if cd, ok := dialer.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	return nil
}

func (f *HTTPFetcher) Name() string {
	return "http"
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, URL: rawURL}
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read body from %s: %w", rawURL, err)
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return "", fmt.Errorf("%w (>%d bytes)", errBodyTooLarge, f.maxBytes)
	}

	if f.extractHTML && strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		return htmlText(body)
	}
	return string(body), nil
}

// htmlText 取出 HTML 页面的正文文本，<br> 视为换行。
func htmlText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("script, style").Remove()
	return doc.Find("body").Text(), nil
}
