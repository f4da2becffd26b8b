package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// defaultShellManifest 是离线壳资源清单，安装阶段逐个预取。
var defaultShellManifest = []string{
	"/",
	"/offline",
	"/library",
	"/downloads",
	"/icons/icon-192x192.png",
	"/icons/icon-512x512.png",
	"/manifest.json",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	if cfg.Global.DatabasePath == "" {
		cfg.Global.DatabasePath = filepath.Join(absStorage, "offline.db")
	}
	absDB, err := filepath.Abs(cfg.Global.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析数据库路径: %w", err)
	}
	cfg.Global.DatabasePath = absDB

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("CacheVersion", "v1")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MessageTimeout", "10s")
	v.SetDefault("AssetMaxAge", "168h")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5080
	}
	if g.CacheVersion == "" {
		g.CacheVersion = "v1"
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MessageTimeout.DurationValue() == 0 {
		g.MessageTimeout = Duration(10 * time.Second)
	}
	if g.AssetMaxAge.DurationValue() == 0 {
		g.AssetMaxAge = Duration(7 * 24 * time.Hour)
	}
	if len(g.ShellManifest) == 0 {
		g.ShellManifest = append([]string(nil), defaultShellManifest...)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v) * time.Second), nil
		default:
			return data, nil
		}
	}
}
