package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/briefcast/briefcast-offline/internal/cache"
	"github.com/briefcast/briefcast-offline/internal/config"
	"github.com/briefcast/briefcast-offline/internal/interceptor"
	"github.com/briefcast/briefcast-offline/internal/logging"
	"github.com/briefcast/briefcast-offline/internal/offline"
	"github.com/briefcast/briefcast-offline/internal/router"
	"github.com/briefcast/briefcast-offline/internal/server"
	"github.com/briefcast/briefcast-offline/internal/server/routes"
	"github.com/briefcast/briefcast-offline/internal/store"
	"github.com/briefcast/briefcast-offline/internal/syncmsg"
	"github.com/briefcast/briefcast-offline/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["upstream"] = cfg.Global.Upstream
		fields["cache_version"] = cfg.Global.CacheVersion
		fields["shell_entries"] = len(cfg.Global.ShellManifest)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	caches, err := cache.NewStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
		return 1
	}

	records, err := store.Open(cfg.Global.DatabasePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化离线数据库失败: %v\n", err)
		return 1
	}
	defer records.Close()

	// 启动顺序遵循“配置 → 缓存存储 → 结构化存储 → 拦截器 → Fiber server”，
	// 所有请求共享同一份缓存与总线实例。
	httpClient := server.NewUpstreamClient(cfg)
	bus := syncmsg.NewBus(cfg.Global.MessageTimeout.DurationValue())
	names := cache.NewNames(cfg.Global.CacheVersion)

	icept, err := interceptor.New(interceptor.Options{
		Client:        httpClient,
		Logger:        logger,
		Caches:        caches,
		Names:         names,
		Records:       records,
		Bus:           bus,
		Router:        router.New(),
		Upstream:      cfg.Global.Upstream,
		ShellManifest: cfg.Global.ShellManifest,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建拦截器失败: %v\n", err)
		return 1
	}

	manager, err := offline.NewManager(offline.Options{
		Records:     records,
		Bus:         bus,
		Client:      httpClient,
		Logger:      logger,
		AssetMaxAge: cfg.Global.AssetMaxAge.DurationValue(),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建离线管理器失败: %v\n", err)
		return 1
	}

	// 壳资源预取可能被不可达的上游拖慢，放入后台执行；
	// 激活紧随其后，完成历史版本缓存回收并广播 ACTIVATED。
	go func() {
		ctx := context.Background()
		icept.Install(ctx)
		if err := icept.Activate(ctx); err != nil {
			logger.WithError(err).Warn("activate_failed")
		}
	}()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["upstream"] = cfg.Global.Upstream
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_version"] = cfg.Global.CacheVersion
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, logger, icept, manager, bus, names); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("briefcast-offline", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 BRIEFCAST_OFFLINE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("BRIEFCAST_OFFLINE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(cfg *config.Config, logger *logrus.Logger, icept *interceptor.Interceptor, manager *offline.Manager, bus *syncmsg.Bus, names cache.Names) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Interceptor: icept,
		ListenPort:  port,
	})
	if err != nil {
		return err
	}
	routes.RegisterOfflineRoutes(app, routes.Deps{
		Logger:      logger,
		Manager:     manager,
		Interceptor: icept,
		Bus:         bus,
		Names:       names,
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
