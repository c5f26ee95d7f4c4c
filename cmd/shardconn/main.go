// shardconn 检查分片配置并导出分发指标
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kasuganosora/shardconn/pkg/api"
	"github.com/kasuganosora/shardconn/pkg/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "shardconn",
		Short:         "Capability-gated sharded connections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default: $"+config.EnvConfigPath+" or shardconn.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (error, warn, info, debug)")

	root.AddCommand(newMatrixCmd(), newCheckCmd(opts), newServeCmd(opts))
	return root
}

// load 加载配置并按配置创建日志
func (o *rootOptions) load() (*config.Config, *api.ZapLogger, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadConfig(o.configPath)
		if err != nil {
			return nil, nil, err
		}
	} else {
		cfg = config.LoadConfigOrDefault()
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, newLogger(cfg.Log), nil
}

// newLogger json 格式使用 zap production 配置，console 格式输出到 stderr 便于阅读
func newLogger(cfg config.LogConfig) *api.ZapLogger {
	level := api.ParseLogLevel(cfg.Level)
	if cfg.Format != "console" {
		return api.NewDefaultLogger(level)
	}
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), zapcore.DebugLevel)
	return api.NewZapLogger(zap.New(core), level)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
