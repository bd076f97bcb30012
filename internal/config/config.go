package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/folio/internal/abuse"
	"github.com/folio/internal/cache"
	"github.com/folio/internal/db"
	"github.com/folio/internal/mirror"
	"gopkg.in/yaml.v3"
)

// AppConfig 汇总运行服务所需的基础配置。
// TrustedProxies 为空时以连接的远端地址作为客户端 IP。
type AppConfig struct {
	ListenAddr     string            `yaml:"listen_addr"`
	Port           string            `yaml:"port"`
	DatabasePath   string            `yaml:"database_path"`
	SessionSecret  string            `yaml:"session_secret"`
	GinMode        string            `yaml:"gin_mode"`
	LogLevel       string            `yaml:"log_level"`
	ContentDir     string            `yaml:"content_dir"`
	JSONDir        string            `yaml:"json_dir"`
	CacheBackend   string            `yaml:"cache_backend"`
	CacheTTL       time.Duration     `yaml:"cache_ttl"`
	AdminUserName  string            `yaml:"admin_user_name"`
	AdminPassword  string            `yaml:"admin_password"`
	TrustedProxies []string          `yaml:"trusted_proxies"`
	Contact        abuse.Limits      `yaml:"contact"`
	Login          abuse.LoginLimits `yaml:"login"`
}

// Load reads the optional YAML file named by FOLIO_CONFIG, then lets
// environment variables override it.
func Load() (AppConfig, error) {
	return LoadFile(strings.TrimSpace(os.Getenv("FOLIO_CONFIG")))
}

// LoadFile is Load with an explicit file path; an empty path skips the file.
func LoadFile(path string) (AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *AppConfig) error {
	override(&cfg.Port, "PORT")
	override(&cfg.ListenAddr, "LISTEN_ADDR")
	override(&cfg.DatabasePath, "DATABASE_PATH")
	override(&cfg.SessionSecret, "SESSION_SECRET")
	override(&cfg.GinMode, "GIN_MODE")
	override(&cfg.LogLevel, "LOG_LEVEL")
	override(&cfg.ContentDir, "CONTENT_DIR")
	override(&cfg.JSONDir, "JSON_DIR")
	override(&cfg.CacheBackend, "CACHE_BACKEND")
	override(&cfg.AdminUserName, "ADMIN_USER_NAME")
	override(&cfg.AdminPassword, "ADMIN_PASSWORD")

	if raw := strings.TrimSpace(os.Getenv("TRUSTED_PROXIES")); raw != "" {
		cfg.TrustedProxies = strings.Split(raw, ",")
	}

	if raw := strings.TrimSpace(os.Getenv("CACHE_TTL")); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("CACHE_TTL: %w", err)
		}
		cfg.CacheTTL = ttl
	}
	return nil
}

func override(dst *string, key string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dst = value
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%s", cfg.Port)
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = db.DefaultPath
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "folio-dev-secret"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = "release"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ContentDir == "" {
		cfg.ContentDir = mirror.DefaultContentDir
	}
	if cfg.JSONDir == "" {
		cfg.JSONDir = mirror.DefaultJSONDir
	}
	cfg.CacheBackend = strings.ToLower(cfg.CacheBackend)
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = cache.BackendMemory
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	cfg.Contact = cfg.Contact.WithDefaults()
	cfg.Login = cfg.Login.WithDefaults()
	cfg.TrustedProxies = trimList(cfg.TrustedProxies)
}

func trimList(items []string) []string {
	var out []string
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
