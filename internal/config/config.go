package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Analytics AnalyticsConfig
	Store     StoreConfig
	Log       LogConfig
	Session   SessionConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	analytics, err := loadAnalyticsConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Analytics: analytics,
		Store:     store,
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "console"),
		},
		Session: session,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AnalyticsConfig 描述分析服务的连接配置。
type AnalyticsConfig struct {
	BaseURL string
	Timeout time.Duration
}

func loadAnalyticsConfig() (AnalyticsConfig, error) {
	timeout, err := parseOptionalIntEnv("ANALYTICS_TIMEOUT")
	if err != nil {
		return AnalyticsConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		if *timeout < 1 {
			return AnalyticsConfig{}, fmt.Errorf("invalid ANALYTICS_TIMEOUT value %d: must be positive", *timeout)
		}
		timeoutSeconds = *timeout
	}

	return AnalyticsConfig{
		BaseURL: strings.TrimRight(getEnvOrDefault("ANALYTICS_API_BASE", "http://localhost:8000"), "/"),
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// StoreConfig 描述看板状态的持久化后端。
type StoreConfig struct {
	Driver     string
	SQLitePath string
	RedisURL   string
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", "memory"))
	switch driver {
	case "memory", "sqlite", "redis":
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value: %q", driver)
	}

	cfg := StoreConfig{
		Driver:     driver,
		SQLitePath: getEnvOrDefault("STORE_SQLITE_PATH", "data/rabbitt.db"),
		RedisURL:   strings.TrimSpace(os.Getenv("REDIS_URL")),
	}
	if cfg.Driver == "redis" && cfg.RedisURL == "" {
		return StoreConfig{}, fmt.Errorf("REDIS_URL is required when STORE_DRIVER=redis")
	}
	return cfg, nil
}

// LogConfig 描述日志级别与输出格式。
type LogConfig struct {
	Level  string
	Format string
}

// SessionConfig 描述会话生命周期与语音开关。
type SessionConfig struct {
	TTL          time.Duration
	VoiceEnabled bool
}

func loadSessionConfig() (SessionConfig, error) {
	ttl, err := parseOptionalIntEnv("SESSION_TTL")
	if err != nil {
		return SessionConfig{}, err
	}
	ttlMinutes := 60
	if ttl != nil {
		if *ttl < 1 {
			ttlMinutes = 1
		} else {
			ttlMinutes = *ttl
		}
	}

	voice, err := parseBoolEnv("VOICE_ENABLED", true)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		TTL:          time.Duration(ttlMinutes) * time.Minute,
		VoiceEnabled: voice,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
