package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"icssync/internal/config"
	appLog "icssync/internal/log"
	"icssync/internal/pipeline"
	"icssync/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	dryRun     bool
	calendar   string
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.calendar != "" {
		conf.CalendarID = flags.calendar
	}

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if conf.LogFile != "" {
		if err := appLog.OpenFile(conf.LogFile); err != nil {
			appLog.Error("failed to open log file", err, "path", conf.LogFile)
			return 1
		}
		defer appLog.Close()
	}

	appLog.Info("icssync starting", "version", version)
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		return 1
	}

	appLog.Info("effective config",
		"calendar", conf.CalendarID,
		"timezone", conf.Timezone,
		"remote", conf.Remote.Kind,
		"state_backend", conf.State.Backend,
		"data_dir", conf.DataDir,
		"refresh", conf.RefreshCron,
		"listen", conf.Listen,
		"purge_orphans", conf.PurgeOrphans,
		"once", flags.once,
		"dry_run", flags.dryRun,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner(conf, pipeline.Deps{})
	defer func() {
		if err := runner.Close(); err != nil {
			appLog.Error("failed to close state store", err)
		}
	}()

	opts := pipeline.RunOptions{DryRun: flags.dryRun}

	if flags.once {
		if _, err := runner.Run(ctx, opts); err != nil {
			return 1
		}
		return 0
	}

	c := cron.New(cron.WithLocation(conf.Location()))
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		if _, err := runner.Run(ctx, opts); errors.Is(err, pipeline.ErrBusy) {
			appLog.Warn("scheduled sync skipped; previous run still active")
		}
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		return 1
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	// Initial sync so the status API has a result before the first tick.
	go func() {
		_, _ = runner.Run(ctx, opts)
	}()

	if err := web.StartServer(ctx, conf, runner); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		return 1
	}

	appLog.Info("icssync exiting")
	return 0
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync and exit")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Plan changes without touching the remote calendar or sync state")
	flag.StringVar(&cfg.calendar, "calendar", "", "Calendar id (overrides config if set)")

	flag.Parse()

	return cfg
}
