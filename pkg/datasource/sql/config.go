package sql

import (
	"encoding/json"
	"fmt"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// SQLConfig holds shared SQL datasource configuration
type SQLConfig struct {
	// TLS/SSL
	SSLMode     string `json:"ssl_mode,omitempty"`
	SSLCert     string `json:"ssl_cert,omitempty"`
	SSLKey      string `json:"ssl_key,omitempty"`
	SSLRootCert string `json:"ssl_root_cert,omitempty"`

	// MySQL-specific
	Charset   string `json:"charset,omitempty"`
	Collation string `json:"collation,omitempty"`
	ParseTime *bool  `json:"parse_time,omitempty"`

	// PostgreSQL-specific
	Schema string `json:"schema,omitempty"`

	// SQLite-specific
	BusyTimeout int `json:"busy_timeout,omitempty"` // milliseconds

	// General
	ConnectTimeout int `json:"connect_timeout,omitempty"` // seconds
}

// ParseSQLConfig extracts SQLConfig from DataSourceConfig.Options
func ParseSQLConfig(dsCfg *domain.DataSourceConfig) (*SQLConfig, error) {
	cfg := &SQLConfig{}

	if dsCfg.Options != nil {
		data, err := json.Marshal(dsCfg.Options)
		if err != nil {
			return nil, fmt.Errorf("marshal options: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, &domain.ErrInvalidConfig{ConfigKey: dsCfg.Name + ".options", Message: err.Error()}
		}
	}

	// Apply defaults
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10
	}
	if cfg.Charset == "" {
		cfg.Charset = "utf8mb4"
	}
	if cfg.Collation == "" {
		cfg.Collation = "utf8mb4_unicode_ci"
	}
	if cfg.ParseTime == nil {
		t := true
		cfg.ParseTime = &t
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}

	return cfg, nil
}
