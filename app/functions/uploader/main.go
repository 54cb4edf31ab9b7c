// SPDX-FileCopyrightText: Copyright (c) 2024-2025, Glowworm contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-obvious/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nstephens/glowworm/app/build"
	"github.com/nstephens/glowworm/app/config"
	"github.com/nstephens/glowworm/app/domain/batch"
	"github.com/nstephens/glowworm/app/domain/errsurface"
	"github.com/nstephens/glowworm/app/domain/healthz"
	"github.com/nstephens/glowworm/app/domain/monitor"
	"github.com/nstephens/glowworm/app/domain/orchestrator"
	"github.com/nstephens/glowworm/app/domain/registry"
	"github.com/nstephens/glowworm/app/handlers"
	"github.com/nstephens/glowworm/app/http/middleware"
	"github.com/nstephens/glowworm/app/logging"
	"github.com/nstephens/glowworm/app/storage/sqlite"
	"github.com/nstephens/glowworm/app/transport"
	"github.com/nstephens/glowworm/app/types"
	"github.com/nstephens/glowworm/app/utils/scheduler"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", configFile, "Path to the configuration file")
	flag.Parse()

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		log.Fatal().Err(err).Msg("configuration file does not exist")
	}

	settings, err := config.NewSettings(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load settings")
	}

	ctx := context.Background()
	logger, err := logging.NewLogger(
		logging.WithLevel(settings.Logging.Level),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create the logger")
	}
	zerolog.DefaultContextLogger = logger
	ctx = logger.WithContext(ctx)

	// print settings on debug
	if logger.GetLevel() <= zerolog.DebugLevel {
		enc, err := json.MarshalIndent(settings, "", "  ") //nolint:govet // shadowing err here keeps the happy path linear
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to encode the config")
		}
		fmt.Println(string(enc))
	}

	db, err := sqlite.NewSQLiteDriver(settings.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open the transfer journal database")
	}
	journal, err := sqlite.NewJournal(db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate the transfer journal")
	}

	client := transport.NewClient(ctx, settings)
	reg := registry.New(settings, *logger)

	netmon := monitor.New(ctx, settings, client, monitor.AlwaysOnline())

	orch, err := orchestrator.New(ctx, settings, reg, netmon, client, scheduler.NewTimed(), journal)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize the upload orchestrator")
	}

	surface := errsurface.New(orch)
	orch.AddErrorListener(surface.Observe)

	// removed files must not linger on the error panel
	removals, _ := reg.Subscribe()
	go surface.Watch(ctx, removals)

	selection := batch.New(reg, orch, nil)

	runnables := []types.Runnable{netmon, orch}
	for _, r := range runnables {
		go func(r types.Runnable) {
			if err := r.Run(); err != nil {
				logger.Error().Err(err).Msg("background service exited with an error")
			}
		}(r)
	}

	healthz.Register("telemetry_monitor", func() error {
		if !netmon.IsRunning() {
			return fmt.Errorf("the telemetry monitor is not running")
		}
		return nil
	})
	healthz.Register("orchestrator", func() error {
		if !orch.IsRunning() {
			return fmt.Errorf("the upload orchestrator is not running")
		}
		return nil
	})
	healthz.Register("journal", func() error {
		_, err := journal.Count(ctx)
		return err
	})

	go func() {
		handleShutdownEvents(ctx, runnables...)
		os.Exit(0)
	}()

	mw := []server.Middleware{
		middleware.LoggingMiddlewareWrapper,
		middleware.PromHTTPMiddleware,
	}

	apis := []server.API{
		handlers.NewUploaderAPI("/api/v1", reg, orch, selection, surface, netmon, journal),
		handlers.NewStatusAPI("/", orch.GetMetricHandler()),
	}

	logger.Info().Msg("Starting service")
	server.New(&server.ServerVersion{Revision: build.Rev, Tag: build.Tag, Time: build.BuildTime}).
		WithAddress(fmt.Sprintf(":%d", settings.Server.Port)).
		WithMiddleware(mw...).
		WithAPIs(apis...).
		WithListener(server.HTTPListener()).
		Run(ctx)
	logger.Info().Msg("Service stopping")
}

func handleShutdownEvents(ctx context.Context, runnables ...types.Runnable) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan

	log.Ctx(ctx).Info().Str("signal", sig.String()).Msg("Received signal, service stopping")
	for _, r := range runnables {
		if err := r.Shutdown(); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to shut down a background service")
		}
	}
}
