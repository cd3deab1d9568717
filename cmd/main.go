package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"

	"mucbot/contract"
	"mucbot/cron"
	"mucbot/domain"
	boterrors "mucbot/errors"
	"mucbot/internal"
	"mucbot/plugins"
	"mucbot/repositories"
	"mucbot/runtime"
	"mucbot/runtime/workers"
	"mucbot/transport"
	"mucbot/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		if stderrors.Is(err, boterrors.ErrSessionNotEstablished) {
			os.Exit(99)
		}
		os.Exit(1)
	}
}

// run initializes all components, manages the bot lifecycle, and
// centralizes error reporting, so every defer executes before the process
// exits and the shutdown path stays testable.
func run() error {
	// 1. Configuration & Logger
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	restartInterval, err := time.ParseDuration(config.RestartInterval)
	if err != nil {
		return fmt.Errorf("bad restart interval: %w", err)
	}

	// 2. Collaborators: persistent store, scheduler, webhook server.
	// Attached exactly once; toggling them needs a full restart.
	var store contract.Store
	if config.DBFilepath != "" {
		db, err := badger.Open(badger.DefaultOptions(config.DBFilepath).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return fmt.Errorf("database opening failed: %w", err)
		}
		store = repositories.NewBotStore(db, log)
	}

	var sched contract.Scheduler
	if config.CronEnabled {
		sched = cron.NewScheduler(log)
	} else {
		log.Warn("Cron support disabled - cron jobs will not work")
	}

	var hooks contract.WebhookServer
	if config.WebhookPort > 0 {
		hooks = web.NewServer(config.WebhookHost, config.WebhookPort, log)
	} else {
		log.Warn("Web server support disabled - webhooks will not work")
	}

	// 3. Transport. The console transport is the local stand-in where a
	// real protocol session plugs in.
	session := transport.NewConsole(log, os.Stdin, domain.JID(config.Operator))

	// 4. Bot construction (Starting phase: roles, room state, plugins).
	opts, specs, pluginConfig := botSetup(config)
	bot := runtime.New(log, opts, session, store, sched, hooks, specs, pluginConfig)

	bot.SetReloadSource(func() (runtime.Options, []contract.PluginSpec, map[string]map[string]string, error) {
		var fresh internal.Config
		if _, err := env.UnmarshalFromEnviron(&fresh); err != nil {
			return runtime.Options{}, nil, nil, fmt.Errorf("config error: %w", err)
		}
		if err := fresh.Validate(); err != nil {
			return runtime.Options{}, nil, nil, fmt.Errorf("config validation: %w", err)
		}
		o, s, pc := botSetup(fresh)
		return o, s, pc, nil
	})

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	bot.SetStopRequest(stop)

	// 6. Supervised workers: event dispatch pool + webhook server.
	sup := workers.NewSupervisor(log, restartInterval)
	sup.Add(bot.Workers()...)
	go sup.Run(ctx)

	bot.Start()

	// 7. Session pump; an error channel captures transport failures.
	errChan := make(chan error, 1)
	go func() {
		if err := session.Run(ctx, bot); err != nil && err != context.Canceled {
			errChan <- fmt.Errorf("transport error: %w", err)
		}
	}()

	// 8. Wait for stop or transport failure.
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		log.Error("Transport failed", "error", err)
	}

	// 9. Final cleanup: workers first, then the lifecycle teardown.
	sup.Stop()
	if err := bot.Shutdown(); err != nil {
		return err
	}

	log.Info("Program stopped cleanly")
	return nil
}

// botSetup derives the bot options, plugin specs and per-section plugin
// configuration from the process config. Used at startup and again on
// every reload.
func botSetup(config internal.Config) (runtime.Options, []contract.PluginSpec, map[string]map[string]string) {
	opts := runtime.Options{
		Nick:         config.Nick,
		SelfJID:      domain.JID(config.SelfJID),
		Room:         domain.JID(config.Room),
		HistoryLimit: config.HistoryLimit,
		RoomInvites:  config.RoomInvites,
		Roles: domain.RolesSpec{
			Users:      config.Users,
			Admins:     config.Admins,
			RoomUsers:  config.RoomUsers,
			RoomAdmins: config.RoomAdmins,
		},
		Workers:    config.NumberOfWorkers,
		BufferSize: config.BufferSize,
	}

	specs := []contract.PluginSpec{
		plugins.CoreSpec(),
		plugins.MonitorSpec(),
	}

	pluginConfig := map[string]map[string]string{
		plugins.MonitorModule: {
			"retention": config.MonitorRetention,
			"purge":     config.MonitorPurge,
		},
	}

	return opts, specs, pluginConfig
}
