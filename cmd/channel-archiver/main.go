package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/r3labs/diff/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/async"
	"github.com/alanbriolat/channel-archiver/internal/crawler"
	"github.com/alanbriolat/channel-archiver/internal/env"
	"github.com/alanbriolat/channel-archiver/internal/lifecycle"
	"github.com/alanbriolat/channel-archiver/internal/removal"
	"github.com/alanbriolat/channel-archiver/internal/store"
	_ "github.com/alanbriolat/channel-archiver/providers"
)

const appName = "channel-archiver"

func envVar(name string) []string {
	return []string{"CHANNEL_ARCHIVER_" + name}
}

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "load settings from TOML or YAML `FILE`",
		EnvVars: envVar("CONFIG"),
	},
	&cli.StringFlag{
		Name:    "config-dir",
		Usage:   "keep state in `DIR` (default: user config dir)",
		EnvVars: envVar("CONFIG_DIR"),
	},
	&cli.StringFlag{
		Name:    "store",
		Usage:   "store `PATH` (default: inside the config dir)",
		EnvVars: envVar("STORE"),
	},
	&cli.StringFlag{
		Name:    "store-backend",
		Usage:   "store backend: json, bolt or sqlite",
		EnvVars: envVar("STORE_BACKEND"),
	},
	&cli.StringFlag{
		Name:    "processing-dir",
		Usage:   "stage downloads in `DIR`",
		EnvVars: envVar("PROCESSING_DIR"),
	},
	&cli.StringFlag{
		Name:    "completed-dir",
		Usage:   "publish finished downloads to `DIR`",
		EnvVars: envVar("COMPLETED_DIR"),
	},
	&cli.DurationFlag{
		Name:    "transcode-timeout",
		Usage:   "kill the transcoder after `DURATION`",
		EnvVars: envVar("TRANSCODE_TIMEOUT"),
	},
	&cli.DurationFlag{
		Name:    "interval",
		Usage:   "run the crawl and download routine every `DURATION`",
		EnvVars: envVar("INTERVAL"),
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "log at debug level",
		EnvVars: envVar("VERBOSE"),
	},
	&cli.BoolFlag{
		Name:    "log-json",
		Usage:   "log JSON lines instead of console text",
		EnvVars: envVar("LOG_JSON"),
	},
}

func newLogger(verbose, json bool) (*zap.Logger, error) {
	var config zap.Config
	if json {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return config.Build()
}

// loadConfig layers the config file and then flags over the defaults.
func loadConfig(c *cli.Context) (config channel_archiver.Config, err error) {
	config = channel_archiver.DefaultConfig
	if path := c.String("config"); path != "" {
		if config, err = channel_archiver.LoadConfigFile(path, config); err != nil {
			return config, err
		}
	}
	strs := []struct {
		flag string
		dst  *string
	}{
		{"store", &config.StorePath},
		{"store-backend", &config.StoreBackend},
		{"processing-dir", &config.ProcessingDir},
		{"completed-dir", &config.CompletedDir},
	}
	for _, s := range strs {
		if c.IsSet(s.flag) {
			*s.dst = c.String(s.flag)
		}
	}
	durations := []struct {
		flag string
		dst  *time.Duration
	}{
		{"transcode-timeout", &config.TranscodeTimeout},
		{"interval", &config.RoutineInterval},
	}
	for _, d := range durations {
		if c.IsSet(d.flag) {
			*d.dst = c.Duration(d.flag)
		}
	}
	return config, config.Validate()
}

// app holds the components shared by every command.
type app struct {
	env     env.Env
	manager *lifecycle.Manager
	remover *removal.Handler
	crawler *crawler.Crawler
	log     *zap.SugaredLogger
	events  sync.WaitGroup
}

type appOption func(*lifecycle.Config)

func withProgress(f func(store.Download, channel_archiver.Progress)) appOption {
	return func(c *lifecycle.Config) {
		c.OnProgress = f
	}
}

func newApp(c *cli.Context, opts ...appOption) (*app, error) {
	config, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	builder := env.NewEnvBuilder().Context(c.Context).Logger(zap.L()).Config(config)
	if dir := c.String("config-dir"); dir != "" {
		builder.ConfigDir(dir)
	} else {
		builder.UserConfigDir(appName)
	}
	e, err := builder.Build()
	if err != nil {
		return nil, err
	}

	a := &app{env: e, log: zap.S()}
	if err := a.watchEvents(); err != nil {
		_ = e.Close()
		return nil, err
	}
	lifecycleConfig := lifecycle.Config{
		ProcessingDir:    config.ProcessingDir,
		CompletedDir:     config.CompletedDir,
		TranscodeTimeout: config.TranscodeTimeout,
		ProviderName:     config.Provider,
	}
	for _, opt := range opts {
		opt(&lifecycleConfig)
	}
	a.manager = lifecycle.New(e.Store(), e.Provider(), e.Transcoder(), lifecycleConfig)
	a.remover = removal.New(e.Store())
	a.crawler = crawler.New(e.Store(), e.Provider(), a.remover, a.manager.Run,
		crawler.WithHTTPClient(newHTTPClient(config.HTTPTimeout)))
	return a, nil
}

// watchEvents logs every store change. The subscription has to be drained for mutations to proceed.
func (a *app) watchEvents() error {
	events, err := a.env.Store().Subscribe()
	if err != nil {
		return err
	}
	logger := a.log.Named("events")
	a.events.Add(1)
	go func() {
		defer a.events.Done()
		for event := range events.Receive() {
			logger.Debugf("event: %T: %v", event, event.Key())
			var changes diff.Changelog
			var err error
			switch e := event.(type) {
			case store.DownloadUpdated:
				changes, err = diff.Diff(e.Old, e.New)
			case store.ChannelUpdated:
				changes, err = diff.Diff(e.Old, e.New)
			}
			if err != nil {
				logger.Errorf("failed to diff old and new state: %v", err)
				continue
			}
			for _, change := range changes {
				logger.Debugf("%v: %v: %#v -> %#v", event.Key(), change.Path, change.From, change.To)
			}
		}
	}()
	return nil
}

func (a *app) Close() error {
	err := a.env.Close()
	a.events.Wait()
	return err
}

// withApp wraps a command action that needs the shared components.
func withApp(f func(c *cli.Context, a *app) error, opts ...appOption) cli.ActionFunc {
	return func(c *cli.Context) error {
		a, err := newApp(c, opts...)
		if err != nil {
			return err
		}
		defer a.Close()
		return f(c, a)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := &cli.App{
		Name:     appName,
		Usage:    "keep local copies of the latest videos from tracked channels",
		Flags:    globalFlags,
		Commands: commands,
		Before: func(c *cli.Context) error {
			logger, err := newLogger(c.Bool("verbose"), c.Bool("log-json"))
			if err != nil {
				log.Fatalf("can't initialize zap logger: %v", err)
			}
			zap.RedirectStdLog(logger)
			zap.ReplaceGlobals(logger)
			return nil
		},
		After: func(c *cli.Context) error {
			_ = zap.L().Sync()
			return nil
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return cliApp.RunContext(ctx, os.Args) })

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		stop()
		zap.S().Info("Exiting gracefully...")
		err = <-result
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		zap.L().Fatal(err.Error())
	}
}
