package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var cacheVersionPattern = regexp.MustCompile(`^v[0-9]+$`)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if !cacheVersionPattern.MatchString(g.CacheVersion) {
		return newFieldError("Global.CacheVersion", "必须形如 v1/v2")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MessageTimeout.DurationValue() <= 0 {
		return newFieldError("Global.MessageTimeout", "必须大于 0")
	}
	if g.AssetMaxAge.DurationValue() <= 0 {
		return newFieldError("Global.AssetMaxAge", "必须大于 0")
	}

	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}

	for _, entry := range g.ShellManifest {
		if !strings.HasPrefix(entry, "/") {
			return newFieldError("Global.ShellManifest", fmt.Sprintf("条目必须以 / 开头: %s", entry))
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("解析失败: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("仅支持 http/https")
	}
	if parsed.Host == "" {
		return errors.New("缺少主机名")
	}
	return nil
}

func newFieldError(field, reason string) error {
	return fmt.Errorf("%s %s", field, reason)
}
