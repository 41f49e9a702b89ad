package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Paper    PaperConfig    `mapstructure:"paper"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	StrategyID  string `mapstructure:"strategy_id"`
}

// ExchangeConfig 描述改单所用交易所连接信息。
type ExchangeConfig struct {
	Name        string      `mapstructure:"name"`
	TradingPair string      `mapstructure:"trading_pair"`
	OrderType   string      `mapstructure:"order_type"`
	APIKey      string      `mapstructure:"api_key"`
	APISecret   string      `mapstructure:"api_secret"`
	APIPass     string      `mapstructure:"api_password"`
	UseSandbox  bool        `mapstructure:"use_sandbox"`
	Retry       RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// PaperConfig 控制模拟交易所。
type PaperConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Equity        float64 `mapstructure:"equity"`
	Leverage      float64 `mapstructure:"leverage"`
	CancelReplace bool    `mapstructure:"cancel_replace"`
	Demo          bool    `mapstructure:"demo"`
}

// DispatchConfig 控制改单结果分发。
type DispatchConfig struct {
	SlowHookThreshold time.Duration `mapstructure:"slow_hook_threshold"`
	MetricsNamespace  string        `mapstructure:"metrics_namespace"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.App.StrategyID == "" {
		err = multierr.Append(err, errors.New("app.strategy_id 不能为空"))
	}
	if c.Exchange.TradingPair == "" {
		err = multierr.Append(err, errors.New("exchange.trading_pair 不能为空"))
	}
	if !c.Paper.Enabled {
		if c.Exchange.Name == "" {
			err = multierr.Append(err, errors.New("exchange.name 不能为空"))
		}
		switch strings.ToLower(c.Exchange.OrderType) {
		case "limit", "market":
		default:
			err = multierr.Append(err, fmt.Errorf("exchange.order_type 不支持 %q", c.Exchange.OrderType))
		}
		if c.Exchange.Retry.MaxAttempts <= 0 {
			err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
		}
		if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
			err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
		}
		if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
			err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
		}
	}
	if c.Paper.Enabled {
		if c.Paper.Equity <= 0 {
			err = multierr.Append(err, errors.New("paper.equity 必须大于0"))
		}
		if c.Paper.Leverage < 1 {
			err = multierr.Append(err, errors.New("paper.leverage 不能小于1"))
		}
	}
	if c.Paper.Demo && !c.Paper.Enabled {
		err = multierr.Append(err, errors.New("paper.demo 需要启用 paper.enabled"))
	}
	if c.Dispatch.SlowHookThreshold < 0 {
		err = multierr.Append(err, errors.New("dispatch.slow_hook_threshold 不能为负"))
	}
	if c.Dispatch.MetricsNamespace == "" {
		err = multierr.Append(err, errors.New("dispatch.metrics_namespace 不能为空"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
