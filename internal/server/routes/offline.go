// Package routes 暴露 /-/ 前缀下的控制接口：离线播客的保存、删除、
// 查询，以及同步协议消息入口。
package routes

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/briefcast/briefcast-offline/internal/cache"
	"github.com/briefcast/briefcast-offline/internal/interceptor"
	"github.com/briefcast/briefcast-offline/internal/offline"
	"github.com/briefcast/briefcast-offline/internal/syncmsg"
	"github.com/briefcast/briefcast-offline/internal/version"
)

// Deps 汇总控制接口的依赖。
type Deps struct {
	Logger      *logrus.Logger
	Manager     *offline.Manager
	Interceptor *interceptor.Interceptor
	Bus         *syncmsg.Bus
	Names       cache.Names
}

// RegisterOfflineRoutes 注册控制接口；deps 不完整时静默跳过。
func RegisterOfflineRoutes(app *fiber.App, deps Deps) {
	if app == nil || deps.Manager == nil || deps.Interceptor == nil || deps.Bus == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"active":  deps.Interceptor.Active(),
			"version": version.Full(),
			"caches":  deps.Names.Declared(),
		})
	})

	app.Get("/-/offline/podcasts", func(c fiber.Ctx) error {
		saved := deps.Manager.GetAllSaved(c.Context())
		return c.JSON(fiber.Map{"podcasts": saved})
	})

	app.Get("/-/offline/podcasts/:id", func(c fiber.Ctx) error {
		rec := deps.Manager.LoadFromStorage(c.Context(), c.Params("id"))
		if rec == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "podcast_not_found"})
		}
		return c.JSON(rec)
	})

	app.Post("/-/offline/podcasts", func(c fiber.Ctx) error {
		msg, err := syncmsg.Decode(c.Body())
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if msg.Kind != syncmsg.KindCachePodcast {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "expected CACHE_PODCAST"})
		}
		return handleCachePodcast(c, deps, msg)
	})

	app.Delete("/-/offline/podcasts/:id", func(c fiber.Ctx) error {
		return handleRemovePodcast(c, deps, c.Params("id"))
	})

	app.Post("/-/offline/messages", func(c fiber.Ctx) error {
		msg, err := syncmsg.Decode(c.Body())
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		// 后台处理与页面生命周期解耦：调用方断开不中止进行中的缓存。
		go func() {
			if handleErr := deps.Interceptor.HandleMessage(context.Background(), msg); handleErr != nil {
				deps.Logger.WithError(handleErr).WithField("kind", msg.Kind).Warn("message_dispatch_failed")
			}
		}()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": string(msg.Kind)})
	})
}

// handleCachePodcast 镜像前台保存流程：结构化存储与命名缓存并行
// 填充，再在有界时间内等待拦截器的完成广播。
func handleCachePodcast(c fiber.Ctx, deps Deps, msg syncmsg.Message) error {
	podcastID := msg.Podcast.ID
	ack, cancel := deps.Bus.Subscribe(32)
	defer cancel()

	go func() {
		if err := deps.Interceptor.HandleMessage(context.Background(), msg); err != nil {
			deps.Logger.WithError(err).WithField("podcast_id", podcastID).Warn("cache_podcast_failed")
		}
	}()

	saved := deps.Manager.SaveOffline(c.Context(), *msg.Podcast)

	_, waitErr := deps.Bus.WaitOn(c.Context(), ack, func(m syncmsg.Message) bool {
		return m.Kind == syncmsg.KindPodcastCached && m.PodcastID == podcastID
	})
	if waitErr != nil {
		deps.Logger.WithError(waitErr).WithField("podcast_id", podcastID).Warn("cache_ack_timeout")
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"podcast_id": podcastID,
			"saved":      saved,
			"cached":     false,
		})
	}

	return c.JSON(fiber.Map{
		"podcast_id": podcastID,
		"saved":      saved,
		"cached":     true,
	})
}

func handleRemovePodcast(c fiber.Ctx, deps Deps, podcastID string) error {
	rec := deps.Manager.LoadFromStorage(c.Context(), podcastID)
	if rec == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "podcast_not_found"})
	}

	msg := syncmsg.Message{
		Kind:      syncmsg.KindRemoveCachedPodcast,
		PodcastID: podcastID,
		AssetURLs: rec.AssetURLs(),
	}

	ack, cancel := deps.Bus.Subscribe(32)
	defer cancel()

	go func() {
		if err := deps.Interceptor.HandleMessage(context.Background(), msg); err != nil {
			deps.Logger.WithError(err).WithField("podcast_id", podcastID).Warn("remove_podcast_failed")
		}
	}()

	deleted := deps.Manager.DeleteFromStorage(c.Context(), podcastID)

	_, waitErr := deps.Bus.WaitOn(c.Context(), ack, func(m syncmsg.Message) bool {
		return m.Kind == syncmsg.KindPodcastRemoved && m.PodcastID == podcastID
	})

	return c.JSON(fiber.Map{
		"podcast_id": podcastID,
		"deleted":    deleted,
		"uncached":   waitErr == nil,
	})
}
