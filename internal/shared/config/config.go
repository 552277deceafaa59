package config

import (
	"os"
	"strconv"
	"strings"
	"unicode"

	"gopkg.in/ini.v1"

	"nodesync/internal/shared/types"
)

const (
	DefaultFetchIntervalMs = 2000
	DefaultScheduleMinutes = 60
	DefaultTimeoutSeconds  = 20
	DefaultMaxBodyBytes    = 5 * 1024 * 1024
	DefaultListKey         = "NODE_CONFIG_LIST"
	DefaultIndexKey        = "node_index"
	DefaultStorePath       = "data/nodes.db"
)

// Default 返回填好默认值的配置。
func Default() *types.Config {
	cfg := new(types.Config)
	applyDefaults(cfg)
	return cfg
}

// LoadIni 加载 nodesync.ini，随后应用默认值与环境变量覆盖。
// 文件不存在时只使用默认值和环境变量。
func LoadIni(cfg *types.Config, fileName string) error {
	if _, err := os.Stat(fileName); err == nil {
		iniFile, err := ini.Load(fileName)
		if err != nil {
			return err
		}
		if err := iniFile.MapTo(cfg); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	overrideFromEnvString(&cfg.UpdaterConf.SourceURL, "SOURCE_URL")
	overrideFromEnvString(&cfg.UpdaterConf.FetchCount, "FETCH_COUNT")
	overrideFromEnvString(&cfg.StoreConf.DSN, "STORE_DSN")
	overrideFromEnvString(&cfg.LogConf.Level, "LOG_LEVEL")
	overrideFromEnvInt(&cfg.WebConf.Port, "WEB_PORT")
	applyDefaults(cfg)
	return nil
}

// ParseFetchCount 按 parseInt(s, 10) || 1 的规则解析抓取次数：
// 取开头的十进制整数前缀，无法解析或不为正数时返回 1。
func ParseFetchCount(s string) int {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digitsStart {
		return 1
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

func applyDefaults(cfg *types.Config) {
	if cfg.UpdaterConf.FetchIntervalMs <= 0 {
		cfg.UpdaterConf.FetchIntervalMs = DefaultFetchIntervalMs
	}
	if cfg.UpdaterConf.ScheduleMinutes < 0 {
		cfg.UpdaterConf.ScheduleMinutes = 0
	}
	if cfg.FetcherConf.Engine == "" {
		cfg.FetcherConf.Engine = "http"
	}
	if cfg.FetcherConf.TimeoutSeconds <= 0 {
		cfg.FetcherConf.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if cfg.FetcherConf.MaxBodyBytes <= 0 {
		cfg.FetcherConf.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.StoreConf.Backend == "" {
		cfg.StoreConf.Backend = "badger"
	}
	if cfg.StoreConf.Path == "" {
		cfg.StoreConf.Path = DefaultStorePath
	}
	if cfg.StoreConf.ListKey == "" {
		cfg.StoreConf.ListKey = DefaultListKey
	}
	if cfg.StoreConf.IndexKey == "" {
		cfg.StoreConf.IndexKey = DefaultIndexKey
	}
	if cfg.LogConf.Level == "" {
		cfg.LogConf.Level = "info"
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue, ok := os.LookupEnv(envName); ok {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
