// Package config 加载 hookd 的运行配置。
//
// 配置按分区组织：app 指定环境与策略标识，exchange 与 paper 二选一提供改单场所，
// dispatch 控制改单结果的分发与慢回调阈值，database 与 monitor 承载分发记录和查询接口，
// logging 控制 zap 日志输出。每个分区的默认值单独维护，环境变量以 HOOKD_ 为前缀覆盖任意键，
// 例如 HOOKD_DISPATCH_SLOW_HOOK_THRESHOLD=1s。
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "hookd"
)

// sectionDefaults 按分区列出默认值，键为分区内的相对路径。
var sectionDefaults = map[string]map[string]interface{}{
	"app": {
		"environment": "development",
		"strategy_id": "order-edit",
	},
	"exchange": {
		"name":               "binance",
		"trading_pair":       "BTC/USDT",
		"order_type":         "limit",
		"api_key":            "",
		"api_secret":         "",
		"api_password":       "",
		"use_sandbox":        false,
		"retry.max_attempts": 5,
		"retry.min_delay":    "500ms",
		"retry.max_delay":    "5s",
	},
	"paper": {
		"enabled":        true,
		"equity":         10000,
		"leverage":       1,
		"cancel_replace": false,
		"demo":           false,
	},
	"dispatch": {
		"slow_hook_threshold": "250ms",
		"metrics_namespace":   "edit_hooks",
	},
	"database": {
		"path":              "data/edit_hooks.db",
		"max_open_conns":    4,
		"max_idle_conns":    4,
		"conn_max_lifetime": "1h",
		"in_memory":         false,
	},
	"logging": {
		"level":              "info",
		"encoding":           "console",
		"development":        true,
		"output_paths":       []string{"stdout"},
		"error_output_paths": []string{"stderr"},
	},
	"monitor": {
		"enabled": true,
		"port":    9108,
	},
}

// Load 读取配置文件，叠加环境变量后归一化并校验。
func Load(path string) (*Config, error) {
	if path == "" {
		path = defaultConfigPath
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// 未声明默认值的键无法被 AutomaticEnv 覆盖，凭证类键因此也需要登记空默认值
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)
	return v
}

func applyDefaults(v *viper.Viper) {
	sections := make([]string, 0, len(sectionDefaults))
	for section := range sectionDefaults {
		sections = append(sections, section)
	}
	sort.Strings(sections)

	for _, section := range sections {
		for key, value := range sectionDefaults[section] {
			v.SetDefault(section+"."+key, value)
		}
	}
}

// normalize 统一大小写与空白，交易对按大写比较。
func (c *Config) normalize() {
	c.App.Environment = strings.TrimSpace(c.App.Environment)
	c.App.StrategyID = strings.TrimSpace(c.App.StrategyID)

	c.Exchange.Name = strings.ToLower(strings.TrimSpace(c.Exchange.Name))
	c.Exchange.OrderType = strings.ToLower(strings.TrimSpace(c.Exchange.OrderType))
	c.Exchange.TradingPair = strings.ToUpper(strings.TrimSpace(c.Exchange.TradingPair))

	c.Dispatch.MetricsNamespace = strings.TrimSpace(c.Dispatch.MetricsNamespace)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
