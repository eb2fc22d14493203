// Package config 读取 YAML 配置
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaos-io/flagmatte/background"
	"github.com/chaos-io/flagmatte/compose"
	"github.com/chaos-io/flagmatte/model/onnx"
	"github.com/chaos-io/flagmatte/model/remote"
)

const (
	BackendONNX   = "onnx"
	BackendRemote = "remote"
)

type Server struct {
	Addr string `yaml:"addr"`
	// MaxUploadBytes 上传图片大小上限
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// Warmup 启动时提前加载模型
	Warmup bool `yaml:"warmup"`
}

type Model struct {
	ID      string        `yaml:"id"`
	Backend string        `yaml:"backend"`
	ONNX    onnx.Config   `yaml:"onnx"`
	Remote  remote.Config `yaml:"remote"`
}

type Session struct {
	MaxIdle time.Duration `yaml:"max_idle"`
	// SweepSpec cron 表达式
	SweepSpec string `yaml:"sweep_spec"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Server     Server            `yaml:"server"`
	Model      Model             `yaml:"model"`
	Compose    compose.Options   `yaml:"compose"`
	Background background.Config `yaml:"background"`
	// PurgeSpec 背景缓存清理的 cron 表达式
	PurgeSpec string  `yaml:"purge_spec"`
	Session   Session `yaml:"session"`
	Log       Log     `yaml:"log"`
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:           ":8080",
			MaxUploadBytes: 32 << 20,
		},
		Model: Model{
			ID:      "Xenova/modnet",
			Backend: BackendONNX,
			ONNX:    onnx.DefaultConfig(),
			Remote:  remote.DefaultConfig(),
		},
		Background: background.DefaultConfig(),
		PurgeSpec:  "@every 1h",
		Session: Session{
			MaxIdle:   30 * time.Minute,
			SweepSpec: "@every 5m",
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load 在默认值之上覆盖文件中的配置，path 为空时返回默认值
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Model.Backend {
	case BackendONNX, BackendRemote:
	default:
		return fmt.Errorf("unknown model backend %q", c.Model.Backend)
	}
	if c.Model.ID == "" {
		return fmt.Errorf("model id is required")
	}
	if strings.Count(c.Background.URLTemplate, "%s") != 1 {
		return fmt.Errorf("background url_template must contain exactly one %%s: %q", c.Background.URLTemplate)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server max_upload_bytes must be positive")
	}
	return nil
}

// Logger 按配置构造 slog.Logger
func (l Log) Logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
