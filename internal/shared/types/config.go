package types

// UpdaterConf 控制更新流程本身。
type UpdaterConf struct {
	SourceURL       string `ini:"source_url"`
	FetchCount      string `ini:"fetch_count"`       // 宽松解析，见 config.ParseFetchCount
	FetchIntervalMs int    `ini:"fetch_interval_ms"` // 两次抓取之间的等待
	ScheduleMinutes int    `ini:"schedule_minutes"`  // 0 表示关闭定时触发
	RunOnStart      bool   `ini:"run_on_start"`
	StrictUUID      bool   `ini:"strict_uuid"`
}

// FetcherConf 包含抓取订阅时的 HTTP 行为配置
type FetcherConf struct {
	Engine         string `ini:"engine"` // "http" 或 "colly"
	TimeoutSeconds int    `ini:"timeout_seconds"`
	MaxBodyBytes   int64  `ini:"max_body_bytes"`
	UserAgent      string `ini:"user_agent"`
	ProxyURL       string `ini:"proxy_url"` // 可选的上游 socks5 代理
	ExtractHTML    bool   `ini:"extract_html"`
}

// StoreConf 选择并配置 KV 存储后端
type StoreConf struct {
	Backend  string `ini:"backend"` // badger, file, memory, postgres
	Path     string `ini:"path"`
	DSN      string `ini:"dsn"`
	ListKey  string `ini:"list_key"`
	IndexKey string `ini:"index_key"`
}

// WebConf 包含触发接口与管理 API 的监听配置
type WebConf struct {
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// Config 是 nodesync.ini 的统一配置结构体
type Config struct {
	UpdaterConf `ini:"updater"`
	FetcherConf `ini:"fetcher"`
	StoreConf   `ini:"store"`
	WebConf     `ini:"web"`
	LogConf     `ini:"log"`
}
