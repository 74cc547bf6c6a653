package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppConfig 应用配置
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`   // HTTP 服务配置
	Log      LogConfig      `yaml:"log"`      // 日志配置
	Database DatabaseConfig `yaml:"database"` // 元数据存储配置
	TSDB     TSDBConfig     `yaml:"tsdb"`     // 时序存储配置
	Checks   ChecksConfig   `yaml:"checks"`   // 检查执行配置
	Email    *EmailConfig   `yaml:"email"`    // 邮件通知配置（可选）
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr string `yaml:"addr"` // 监听地址，默认 :8090
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`      // debug/info/warn/error，默认 info
	File       string `yaml:"file"`       // 日志文件路径，空表示标准输出
	MaxSize    int    `yaml:"maxSize"`    // 单文件上限（MB）
	MaxBackups int    `yaml:"maxBackups"` // 保留的旧日志文件数
	MaxAge     int    `yaml:"maxAge"`     // 保留天数
	Compress   bool   `yaml:"compress"`   // 是否压缩
}

// DatabaseConfig 元数据存储配置
type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite 或 postgres，默认 sqlite
	DSN  string `yaml:"dsn"`  // 连接串（sqlite 为文件路径）
}

// TSDBConfig 时序存储配置
type TSDBConfig struct {
	Path          string `yaml:"path"`          // 嵌入式时序库文件路径，默认 osprey-tsdb.db
	RetentionDays int    `yaml:"retentionDays"` // 默认保留天数，0 表示不清理
}

// ChecksConfig 检查执行配置
type ChecksConfig struct {
	MaxConcurrent int `yaml:"maxConcurrent"` // 并发执行上限，默认 16
}

// EmailConfig 邮件通知配置
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Load 从 YAML 文件加载配置，文件不存在时返回默认配置
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Type == "sqlite" {
		c.Database.DSN = "osprey.db"
	}
	if c.TSDB.Path == "" {
		c.TSDB.Path = "osprey-tsdb.db"
	}
	if c.Checks.MaxConcurrent <= 0 {
		c.Checks.MaxConcurrent = 16
	}
}
