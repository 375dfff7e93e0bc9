package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"untiscal/internal/cache"
	"untiscal/internal/config"
	appLog "untiscal/internal/log"
	"untiscal/internal/session"
	"untiscal/internal/timetable"
	"untiscal/internal/untis"
	"untiscal/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	listen     string
}

func main() {
	appLog.Info("untiscal starting", "version", version)

	flags := parseFlags()
	path := config.ResolvePath(flags.configPath)

	conf, err := config.Load(path)
	if errors.Is(err, config.ErrTemplateWritten) {
		appLog.Warn("no config found; wrote a template, add users and restart", "config_path", path)
		os.Exit(1)
	}
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", path)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"days_before", conf.DaysBefore,
		"days_after", conf.DaysAfter,
		"cache_duration", conf.CacheDuration,
		"session_ttl", conf.SessionTTL,
		"users", len(conf.Users),
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	client := untis.NewClient(nil)
	pool := session.NewPool(client, conf.SessionTTL)
	fetcher := timetable.NewFetcher(pool, client)

	feeds := cache.New(conf.CacheTTL())
	feeds.SetSweepInterval(conf.SweepInterval)
	if err := feeds.Start(); err != nil {
		appLog.Error("failed to start feed cache sweeper", err)
		os.Exit(1)
	}
	defer feeds.Stop()

	store := config.NewStore(path, conf)
	listen := conf.Listen
	store.OnReload = func(c *config.Config) {
		// Listen address changes need a restart; everything else applies live.
		if flags.listen == "" && c.Listen != listen {
			appLog.Warn("listen address changed; restart to apply", "old", listen, "new", c.Listen)
		}
		appLog.SetLevel(appLog.ParseLevel(c.LogLevel))
		pool.SetTTL(c.SessionTTL)
		feeds.SetTTL(c.CacheTTL())
	}
	go func() {
		if err := store.Watch(ctx); err != nil {
			appLog.Error("config watcher stopped", err, "config_path", path)
		}
	}()

	srv := web.NewServer(store, fetcher, feeds)
	if err := srv.ListenAndServe(ctx, listen); err != nil {
		appLog.Error("http server failed", err, "listen", listen)
		os.Exit(1)
	}

	appLog.Info("untiscal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/untiscal/config.yaml", "Path to config file (CONFIG_PATH / CONFIG_FILE take precedence)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")

	flag.Parse()

	return cfg
}
