package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// EnvConfigPath 指定配置文件路径的环境变量
const EnvConfigPath = "SHARDCONN_CONFIG"

// Config 应用程序配置
type Config struct {
	Log        LogConfig        `json:"log" yaml:"log"`
	Connection ConnectionConfig `json:"connection" yaml:"connection"`
	Databases  []DatabaseConfig `json:"databases" yaml:"databases"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // json or console
}

// ConnectionConfig 逻辑连接配置
type ConnectionConfig struct {
	// NetworkTimeout 新连接的网络超时，0 表示不限制
	NetworkTimeout time.Duration `json:"network_timeout" yaml:"network_timeout"`
	// ParallelAggregate 并发执行 AGGREGATE 操作
	ParallelAggregate bool `json:"parallel_aggregate" yaml:"parallel_aggregate"`
	// MaxFanout 并发上限，0 表示不限制
	MaxFanout int `json:"max_fanout" yaml:"max_fanout"`
	// ConnectTimeout 启动时连接全部分片的期限
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

// DatabaseConfig 逻辑库配置
type DatabaseConfig struct {
	Name string `json:"name" yaml:"name"`
	// Shards 有序分片，第一个是 DELEGATE 操作的目标
	Shards []domain.DataSourceConfig `json:"shards" yaml:"shards"`
	// Tables 表名 -> 分片名，用于语句路由；未列出的表不收窄
	Tables map[string][]string `json:"tables,omitempty" yaml:"tables,omitempty"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Listen    string `json:"listen" yaml:"listen"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Connection: ConnectionConfig{
			NetworkTimeout:    0,
			ParallelAggregate: false,
			MaxFanout:         0,
			ConnectTimeout:    30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Listen:    ":9102",
			Namespace: "shardconn",
		},
	}
}

// LoadConfig 从文件加载配置，.yaml/.yml 按 YAML 解析，其余按 JSON
func LoadConfig(configPath string) (*Config, error) {
	// 如果没有指定配置文件，使用默认配置
	if configPath == "" {
		return DefaultConfig(), nil
	}

	// 检查配置文件是否存在
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	// 读取配置文件
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config, err := Parse(data, filepath.Ext(configPath))
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Parse 解析配置内容，ext 为文件扩展名（决定格式）
func Parse(data []byte, ext string) (*Config, error) {
	config := DefaultConfig()
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	// 验证配置
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadConfigOrDefault 尝试从常见位置加载配置文件
func LoadConfigOrDefault() *Config {
	// 尝试的配置文件路径
	possiblePaths := []string{
		"shardconn.yaml",
		"shardconn.json",
		"./config/shardconn.yaml",
		"/etc/shardconn/shardconn.yaml",
	}

	// 尝试从环境变量获取配置文件路径
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		if config, err := LoadConfig(envPath); err == nil {
			return config
		}
	}

	// 尝试从常见位置加载
	for _, path := range possiblePaths {
		if absPath, err := filepath.Abs(path); err == nil {
			if config, err := LoadConfig(absPath); err == nil {
				return config
			}
		}
	}

	// 使用默认配置
	return DefaultConfig()
}

// validateConfig 验证配置
func validateConfig(config *Config) error {
	switch strings.ToLower(config.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("无效的日志级别: %s", config.Log.Level)
	}

	if config.Connection.NetworkTimeout < 0 {
		return fmt.Errorf("网络超时不能为负数")
	}

	if config.Connection.MaxFanout < 0 {
		return fmt.Errorf("并发上限不能为负数")
	}

	if config.Metrics.Enabled && config.Metrics.Listen == "" {
		return fmt.Errorf("启用监控时必须指定监听地址")
	}

	databases := make(map[string]bool)
	shards := make(map[string]bool)
	for i, db := range config.Databases {
		if db.Name == "" {
			return fmt.Errorf("第 %d 个逻辑库缺少名称", i+1)
		}
		if databases[db.Name] {
			return fmt.Errorf("逻辑库重复: %s", db.Name)
		}
		databases[db.Name] = true

		own := make(map[string]bool)
		for j, shard := range db.Shards {
			if shard.Name == "" {
				return fmt.Errorf("逻辑库 %s 的第 %d 个分片缺少名称", db.Name, j+1)
			}
			if shard.Type == "" {
				return fmt.Errorf("分片 %s 缺少类型", shard.Name)
			}
			if shards[shard.Name] {
				return fmt.Errorf("分片重复: %s", shard.Name)
			}
			shards[shard.Name] = true
			own[shard.Name] = true
		}

		for table, names := range db.Tables {
			if len(names) == 0 {
				return fmt.Errorf("逻辑库 %s 的表 %s 没有指定分片", db.Name, table)
			}
			for _, name := range names {
				if !own[name] {
					return fmt.Errorf("逻辑库 %s 的表 %s 指向未知分片: %s", db.Name, table, name)
				}
			}
		}
	}

	return nil
}

// Database 按名称查找逻辑库配置
func (c *Config) Database(name string) (*DatabaseConfig, bool) {
	for i := range c.Databases {
		if c.Databases[i].Name == name {
			return &c.Databases[i], true
		}
	}
	return nil, false
}
