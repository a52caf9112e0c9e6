package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 支持的令牌缓存后端
const (
	CacheBackendMemory = "memory"
	CacheBackendFile   = "file"
	CacheBackendBadger = "badger"
	CacheBackendRedis  = "redis"
)

// KISConfig 券商连接配置
type KISConfig struct {
	AppKey     string
	AppSecret  string
	AccountNo  string // 格式: CANO-ACNT_PRDT_CD，例如 12345678-01
	UseSandbox bool   // 模拟投资环境
	BaseURL    string // 为空则按环境取默认值
	WSURL      string // 为空则按环境取默认值
	Exchange   string // 默认 NASD
	Currency   string // 默认 USD
	Timeout    time.Duration
}

// TokenCacheConfig 访问令牌缓存配置
type TokenCacheConfig struct {
	Backend       string // memory, file, badger, redis
	Dir           string // file 后端目录
	BadgerPath    string
	BadgerKey     string // base64 或 hex 编码的 32 字节加密密钥（可选）
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// RetryConfig 请求重试策略
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RealtimeConfig 实时行情连接配置
type RealtimeConfig struct {
	HeartbeatInterval    time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	ReconnectBackoff     string // linear 或 exponential
	MaxReconnectDelay    time.Duration
	QuoteTrID            string
	TradeTrID            string
	EventBufferSize      int
}

// Config 应用配置
type Config struct {
	KIS        KISConfig
	TokenCache TokenCacheConfig
	Retry      RetryConfig
	Realtime   RealtimeConfig

	LogLevel  string // 日志级别
	LogFile   string // 日志文件路径（可选）
	LogFormat string // text 或 json

	ServerListen  string   // 状态服务监听地址
	MetricsListen string   // expvar/pprof 监听地址（可选）
	JournalPath   string   // 成交日志 sqlite 路径（可选）
	KafkaBrokers  []string // 实时行情转发（可选）
	KafkaTopic    string
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	KIS struct {
		AppKey         string `yaml:"app_key" json:"app_key"`
		AppSecret      string `yaml:"app_secret" json:"app_secret"`
		AccountNo      string `yaml:"account_no" json:"account_no"`
		UseSandbox     *bool  `yaml:"use_sandbox" json:"use_sandbox"`
		BaseURL        string `yaml:"base_url" json:"base_url"`
		WSURL          string `yaml:"ws_url" json:"ws_url"`
		Exchange       string `yaml:"exchange" json:"exchange"`
		Currency       string `yaml:"currency" json:"currency"`
		TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	} `yaml:"kis" json:"kis"`
	TokenCache struct {
		Backend       string `yaml:"backend" json:"backend"`
		Dir           string `yaml:"dir" json:"dir"`
		BadgerPath    string `yaml:"badger_path" json:"badger_path"`
		BadgerKey     string `yaml:"badger_key" json:"badger_key"`
		RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
		RedisPassword string `yaml:"redis_password" json:"redis_password"`
		RedisDB       int    `yaml:"redis_db" json:"redis_db"`
		RedisPrefix   string `yaml:"redis_prefix" json:"redis_prefix"`
	} `yaml:"token_cache" json:"token_cache"`
	Retry struct {
		MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
		BaseDelayMs int `yaml:"base_delay_ms" json:"base_delay_ms"`
		MaxDelayMs  int `yaml:"max_delay_ms" json:"max_delay_ms"`
	} `yaml:"retry" json:"retry"`
	Realtime struct {
		HeartbeatIntervalSec int    `yaml:"heartbeat_interval_sec" json:"heartbeat_interval_sec"`
		MaxReconnectAttempts int    `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
		ReconnectDelayMs     int    `yaml:"reconnect_delay_ms" json:"reconnect_delay_ms"`
		ReconnectBackoff     string `yaml:"reconnect_backoff" json:"reconnect_backoff"`
		MaxReconnectDelayMs  int    `yaml:"max_reconnect_delay_ms" json:"max_reconnect_delay_ms"`
		QuoteTrID            string `yaml:"quote_tr_id" json:"quote_tr_id"`
		TradeTrID            string `yaml:"trade_tr_id" json:"trade_tr_id"`
		EventBufferSize      int    `yaml:"event_buffer_size" json:"event_buffer_size"`
	} `yaml:"realtime" json:"realtime"`
	Log struct {
		Level  string `yaml:"level" json:"level"`
		File   string `yaml:"file" json:"file"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
	Server struct {
		Listen        string `yaml:"listen" json:"listen"`
		MetricsListen string `yaml:"metrics_listen" json:"metrics_listen"`
	} `yaml:"server" json:"server"`
	Journal struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"journal" json:"journal"`
	Kafka struct {
		Brokers []string `yaml:"brokers" json:"brokers"`
		Topic   string   `yaml:"topic" json:"topic"`
	} `yaml:"kafka" json:"kafka"`
}

// Load 加载配置。优先级：环境变量 > 配置文件 > 默认值。
// envFile 非空时先加载 .env（不覆盖已存在的环境变量）。
func Load(filePath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("加载 env 文件失败 %s: %w", envFile, err)
		}
	}

	cf := &ConfigFile{}
	if filePath != "" {
		loaded, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		cf = loaded
	}

	sandbox := true
	if cf.KIS.UseSandbox != nil {
		sandbox = *cf.KIS.UseSandbox
	}

	c := &Config{
		KIS: KISConfig{
			AppKey:     pickString("KIS_APP_KEY", cf.KIS.AppKey, ""),
			AppSecret:  pickString("KIS_APP_SECRET", cf.KIS.AppSecret, ""),
			AccountNo:  pickString("KIS_ACCOUNT_NO", cf.KIS.AccountNo, ""),
			UseSandbox: parseBoolEnv("KIS_USE_SANDBOX", sandbox),
			BaseURL:    pickString("KIS_BASE_URL", cf.KIS.BaseURL, ""),
			WSURL:      pickString("KIS_WS_URL", cf.KIS.WSURL, ""),
			Exchange:   pickString("KIS_EXCHANGE", cf.KIS.Exchange, "NASD"),
			Currency:   pickString("KIS_CURRENCY", cf.KIS.Currency, "USD"),
			Timeout:    time.Duration(pickInt("KIS_TIMEOUT_SECONDS", cf.KIS.TimeoutSeconds, 30)) * time.Second,
		},
		TokenCache: TokenCacheConfig{
			Backend:       strings.ToLower(pickString("KIS_TOKEN_CACHE", cf.TokenCache.Backend, CacheBackendFile)),
			Dir:           pickString("KIS_TOKEN_CACHE_DIR", cf.TokenCache.Dir, "data/tokens"),
			BadgerPath:    pickString("KIS_BADGER_PATH", cf.TokenCache.BadgerPath, "data/secrets"),
			BadgerKey:     pickString("KIS_BADGER_KEY", cf.TokenCache.BadgerKey, ""),
			RedisAddr:     pickString("KIS_REDIS_ADDR", cf.TokenCache.RedisAddr, "127.0.0.1:6379"),
			RedisPassword: pickString("KIS_REDIS_PASSWORD", cf.TokenCache.RedisPassword, ""),
			RedisDB:       pickInt("KIS_REDIS_DB", cf.TokenCache.RedisDB, 0),
			RedisPrefix:   pickString("KIS_REDIS_PREFIX", cf.TokenCache.RedisPrefix, "kis:token"),
		},
		Retry: RetryConfig{
			MaxAttempts: pickInt("KIS_RETRY_MAX_ATTEMPTS", cf.Retry.MaxAttempts, 3),
			BaseDelay:   time.Duration(pickInt("KIS_RETRY_BASE_DELAY_MS", cf.Retry.BaseDelayMs, 2000)) * time.Millisecond,
			MaxDelay:    time.Duration(pickInt("KIS_RETRY_MAX_DELAY_MS", cf.Retry.MaxDelayMs, 10000)) * time.Millisecond,
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval:    time.Duration(pickInt("KIS_WS_HEARTBEAT_SEC", cf.Realtime.HeartbeatIntervalSec, 30)) * time.Second,
			MaxReconnectAttempts: pickInt("KIS_WS_MAX_RECONNECT", cf.Realtime.MaxReconnectAttempts, 5),
			ReconnectDelay:       time.Duration(pickInt("KIS_WS_RECONNECT_DELAY_MS", cf.Realtime.ReconnectDelayMs, 5000)) * time.Millisecond,
			ReconnectBackoff:     strings.ToLower(pickString("KIS_WS_RECONNECT_BACKOFF", cf.Realtime.ReconnectBackoff, "linear")),
			MaxReconnectDelay:    time.Duration(pickInt("KIS_WS_MAX_RECONNECT_DELAY_MS", cf.Realtime.MaxReconnectDelayMs, 60000)) * time.Millisecond,
			QuoteTrID:            pickString("KIS_WS_QUOTE_TR_ID", cf.Realtime.QuoteTrID, "H0STCNT0"),
			TradeTrID:            pickString("KIS_WS_TRADE_TR_ID", cf.Realtime.TradeTrID, "H0STCNI0"),
			EventBufferSize:      pickInt("KIS_WS_EVENT_BUFFER", cf.Realtime.EventBufferSize, 1024),
		},
		LogLevel:      pickString("LOG_LEVEL", cf.Log.Level, "info"),
		LogFile:       pickString("LOG_FILE", cf.Log.File, ""),
		LogFormat:     pickString("LOG_FORMAT", cf.Log.Format, "text"),
		ServerListen:  pickString("KIS_SERVER_LISTEN", cf.Server.Listen, ":8080"),
		MetricsListen: pickString("KIS_METRICS_LISTEN", cf.Server.MetricsListen, ""),
		JournalPath:   pickString("KIS_JOURNAL_PATH", cf.Journal.Path, ""),
		KafkaBrokers:  cf.Kafka.Brokers,
		KafkaTopic:    pickString("KIS_KAFKA_TOPIC", cf.Kafka.Topic, "kis.realtime"),
	}
	if brokers := os.Getenv("KIS_KAFKA_BROKERS"); brokers != "" {
		c.KafkaBrokers = splitList(brokers)
	}

	return c, nil
}

// loadConfigFile 读取 YAML/JSON 配置文件
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return &configFile, nil
}

// Env 返回环境名（sandbox/live）
func (c *Config) Env() string {
	if c.KIS.UseSandbox {
		return "sandbox"
	}
	return "live"
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.KIS.AppKey == "" {
		return fmt.Errorf("KIS_APP_KEY 未配置")
	}
	if c.KIS.AppSecret == "" {
		return fmt.Errorf("KIS_APP_SECRET 未配置")
	}
	if len(c.KIS.AccountNo) < 10 {
		return fmt.Errorf("KIS_ACCOUNT_NO 格式不正确（至少 10 位，例如 12345678-01）")
	}
	if c.KIS.Timeout <= 0 {
		return fmt.Errorf("KIS_TIMEOUT_SECONDS 必须大于 0")
	}

	switch c.TokenCache.Backend {
	case CacheBackendMemory, CacheBackendFile:
	case CacheBackendBadger:
		if c.TokenCache.BadgerPath == "" {
			return fmt.Errorf("KIS_BADGER_PATH 不能为空")
		}
	case CacheBackendRedis:
		if c.TokenCache.RedisAddr == "" {
			return fmt.Errorf("KIS_REDIS_ADDR 不能为空")
		}
	default:
		return fmt.Errorf("未知的令牌缓存后端: %s", c.TokenCache.Backend)
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("KIS_RETRY_MAX_ATTEMPTS 必须大于 0")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("重试延迟配置不正确: base=%s max=%s", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}

	if c.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("KIS_WS_HEARTBEAT_SEC 必须大于 0")
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		return fmt.Errorf("KIS_WS_MAX_RECONNECT 不能为负数")
	}
	switch c.Realtime.ReconnectBackoff {
	case "linear", "exponential":
	default:
		return fmt.Errorf("KIS_WS_RECONNECT_BACKOFF 只支持 linear 或 exponential")
	}
	if c.Realtime.EventBufferSize <= 0 {
		return fmt.Errorf("KIS_WS_EVENT_BUFFER 必须大于 0")
	}
	return nil
}

// pickString 按优先级返回第一个非空值：环境变量 > 配置文件 > 默认值
func pickString(envKey, fileValue, defaultValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	if fileValue != "" {
		return fileValue
	}
	return defaultValue
}

// pickInt 同 pickString，配置文件中的 0 视为未设置
func pickInt(envKey string, fileValue, defaultValue int) int {
	if fileValue != 0 {
		defaultValue = fileValue
	}
	return parseIntEnv(envKey, defaultValue)
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
