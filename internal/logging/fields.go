package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供策略/缓存命中状态字段，供拦截请求日志复用。
func RequestFields(strategy, cacheName, url string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"strategy":  strategy,
		"cache":     cacheName,
		"url":       url,
		"cache_hit": cacheHit,
	}
}

// PodcastFields 提供播客离线操作的通用字段。
func PodcastFields(action, podcastID string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"podcast_id": podcastID,
	}
}
