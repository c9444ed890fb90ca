package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/italolelis/yuque_exporter/internal/automation"
	"github.com/italolelis/yuque_exporter/internal/browser"
	"github.com/italolelis/yuque_exporter/internal/cleanup"
	"github.com/italolelis/yuque_exporter/internal/config"
	"github.com/italolelis/yuque_exporter/internal/download"
	"github.com/italolelis/yuque_exporter/internal/exporter"
	"github.com/italolelis/yuque_exporter/internal/logctx"
	"github.com/italolelis/yuque_exporter/internal/notifier"
	"github.com/italolelis/yuque_exporter/internal/storage"
	"github.com/italolelis/yuque_exporter/internal/storage/sqlite"
	"github.com/italolelis/yuque_exporter/internal/telemetry"
	"github.com/italolelis/yuque_exporter/internal/transfer"
	"github.com/italolelis/yuque_exporter/internal/vault"
	"github.com/spf13/afero"
)

// app holds the long-lived dependencies shared by every command.
type app struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	db       *sql.DB
	fs       afero.Fs
	prompter vault.Prompter
	store    *vault.Store
	history  storage.ExportRepository
}

func newApp(ctx context.Context, cfg *config.Config, prompter vault.Prompter) (*app, error) {
	logger := logctx.LoggerFromContext(ctx)

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.TelemetryEnabled,
		ServiceName:    "yuque_exporter",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.AutoGrant {
		prompter = vault.StaticPrompter(true)
	}

	fs := afero.NewOsFs()

	a := &app{
		cfg:      cfg,
		tel:      tel,
		db:       db,
		fs:       fs,
		prompter: prompter,
		history:  sqlite.NewInstrumentedExportRepository(db, tel),
	}

	a.store = vault.NewStore(
		sqlite.NewInstrumentedCapabilityRepository(db, tel),
		a.opener(),
		vault.WithTelemetry(tel),
		vault.WithStateListener(func(s vault.State) {
			logger.Info("vault state changed", "state", s)
		}),
	)

	return a, nil
}

func (a *app) opener() vault.Opener {
	return vault.FSOpener(a.fs, a.prompter)
}

func (a *app) Close(ctx context.Context) {
	if err := a.tel.Shutdown(ctx); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to shutdown telemetry", "err", err)
	}

	a.db.Close()
}

// exportRuntime is a connected browser plus the background services an
// export needs.
type exportRuntime struct {
	exporter *exporter.Exporter
	closers  []func()
}

func (r *exportRuntime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// newExportRuntime launches the browser and wires the download correlator,
// the transfer channel and the exporter.
func (a *app) newExportRuntime(ctx context.Context, sinks ...exporter.StatusSink) (*exportRuntime, error) {
	logger := logctx.LoggerFromContext(ctx)
	rt := &exportRuntime{}

	selectors, err := automation.LoadSelectors(a.cfg.SelectorsFile)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(a.cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download dir: %w", err)
	}

	pruneCtx, stopPrune := context.WithCancel(ctx)
	pruned := make(chan struct{})

	go func() {
		defer close(pruned)
		cleanup.Run(pruneCtx, a.fs, a.cfg.DownloadDir, a.cfg.KeepDownloadedFor, a.cfg.CleanupInterval)
	}()

	rt.closers = append(rt.closers, func() {
		stopPrune()
		<-pruned
	})

	session, err := browser.Start(ctx, browser.Config{
		Bin:         a.cfg.BrowserBin,
		ControlURL:  a.cfg.BrowserControlURL,
		Headless:    a.cfg.Headless,
		DownloadDir: a.cfg.DownloadDir,
	})
	if err != nil {
		rt.Close()

		return nil, err
	}

	rt.closers = append(rt.closers, func() {
		if err := session.Close(); err != nil {
			logger.Error("failed to close browser", "err", err)
		}
	})

	bus := download.NewBus()
	filter := download.DefaultFilter()
	filter.Hosts = a.cfg.RecognizedHosts

	bg := download.NewBackground(ctx, session.Downloads(), bus,
		download.WithFilter(filter),
		download.WithPollInterval(a.cfg.PollInterval),
		download.WithTimeout(a.cfg.DownloadTimeout),
	)
	rt.closers = append(rt.closers, bg.Close)

	jar := session.CookieJar(ctx)

	// Asset transfers are bounded by the run context, not a client timeout.
	hub := transfer.NewHub()
	transfer.NewServer(telemetry.NewHTTPClient(0, jar)).Register(hub)
	rt.closers = append(rt.closers, hub.Wait)

	if a.cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, notifier.ExportSink{
			Notifier: notifier.NewDiscordNotifier(a.cfg.DiscordWebhookURL, telemetry.NewHTTPClient(0, nil)),
		})
	}

	rt.exporter = exporter.New(
		exporter.Config{
			Selectors:      selectors,
			Delays:         automation.DefaultDelays(),
			ElementTimeout: a.cfg.ElementTimeout,
			Cooldown:       a.cfg.Cooldown,
		},
		session,
		a.store,
		download.NewCorrelator(bus, a.cfg.DownloadTimeout),
		exporter.NewHTTPContentFetcher(telemetry.NewHTTPClient(a.cfg.DownloadTimeout, jar), a.fs),
		transfer.NewInstrumentedDownloader(transfer.NewClient(hub), a.tel),
		exporter.WithStatusSink(append(exporter.MultiSink{exporter.LogSink{}}, sinks...)),
		exporter.WithHistory(a.history),
		exporter.WithTelemetry(a.tel),
	)

	return rt, nil
}
