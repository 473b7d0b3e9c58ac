package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"kidcanvas/background_resolver"
	"kidcanvas/composite_renderer"
	"kidcanvas/config"
	"kidcanvas/databases/sqlite"
	"kidcanvas/discord_bot"
	"kidcanvas/export_packager"
	"kidcanvas/generation_invoker"
	"kidcanvas/logging"
	"kidcanvas/pipeline"
	"kidcanvas/repositories/default_settings"
	"kidcanvas/repositories/session_images"
	"kidcanvas/session"
	"kidcanvas/sketch_queue"
	"kidcanvas/stable_diffusion_api"
	"kidcanvas/web"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("loading config")
	}

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel, os.Stdout)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("building logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, &logger); err != nil {
		logger.Fatal().Err(err).Msg("exiting")
	}

	logger.Info().Msg("gracefully shut down")
}

func run(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	db, err := sqlite.New(ctx, sqlite.Config{DSN: cfg.DatabaseDSN, Logger: logger})
	if err != nil {
		return err
	}
	defer db.Close()

	imageRepo, err := session_images.NewRepository(&session_images.Config{DB: db})
	if err != nil {
		return err
	}

	settingsRepo, err := default_settings.NewRepository(&default_settings.Config{DB: db})
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(session.Config{
		ImageRepo:    imageRepo,
		SettingsRepo: settingsRepo,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	stableDiffusionAPI, err := stable_diffusion_api.New(stable_diffusion_api.Config{
		Host:   cfg.StableDiffusionHost,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	// The backend is probed on the first sketch, not at startup.
	invoker := generation_invoker.NewLazyStableDiffusion(generation_invoker.Config{
		StableDiffusionAPI: stableDiffusionAPI,
		SamplerName:        cfg.StableDiffusionSampler,
		Logger:             logger,
	})

	aspectPolicy := background_resolver.AspectPolicyClamp
	if cfg.AspectPolicy == "strict" {
		aspectPolicy = background_resolver.AspectPolicyStrict
	}

	resolver, err := background_resolver.New(background_resolver.Config{
		Width:             cfg.CanvasWidth,
		Height:            cfg.CanvasHeight,
		AspectPolicy:      aspectPolicy,
		AllowPrivateHosts: cfg.AllowPrivateBackgroundHosts,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	renderer, err := composite_renderer.New(composite_renderer.Config{})
	if err != nil {
		return err
	}

	packager, err := export_packager.New(export_packager.Config{})
	if err != nil {
		return err
	}

	sketchPipeline, err := pipeline.New(pipeline.Config{
		Resolver:              resolver,
		Renderer:              renderer,
		Invoker:               invoker,
		Packager:              packager,
		Sessions:              sessions,
		BackgroundMode:        pipeline.BackgroundMode(cfg.BackgroundMode),
		SkipBackgroundOnError: cfg.SkipBackgroundOnError,
		Logger:                logger,
	})
	if err != nil {
		return err
	}

	queue, err := sketch_queue.New(sketch_queue.Config{
		Pipeline: sketchPipeline,
		Progress: stableDiffusionAPI,
		Capacity: cfg.QueueCapacity,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	go queue.StartPolling(ctx)

	server, err := web.New(web.Config{
		Sessions:       sessions,
		Queue:          queue,
		Packager:       packager,
		CanvasWidth:    cfg.CanvasWidth,
		CanvasHeight:   cfg.CanvasHeight,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("http server listening")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}

		close(serveErr)
	}()

	botDone := make(chan struct{})

	if cfg.DiscordEnabled() {
		if cfg.DiscordDevMode {
			logger.Info().Msg("starting in development mode, all commands prefixed with \"dev_\"")
		}

		bot, err := discord_bot.New(discord_bot.Config{
			DevelopmentMode: cfg.DiscordDevMode,
			BotToken:        cfg.DiscordToken,
			GuildID:         cfg.DiscordGuildID,
			Queue:           queue,
			Sessions:        sessions,
			Renderer:        renderer,
			CanvasWidth:     cfg.CanvasWidth,
			CanvasHeight:    cfg.CanvasHeight,
			RemoveCommands:  cfg.DiscordRemoveCommands,
			Logger:          logger,
		})
		if err != nil {
			_ = httpServer.Close()

			return err
		}

		go func() {
			bot.Start(ctx)
			close(botDone)
		}()
	} else {
		close(botDone)
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	select {
	case <-botDone:
	case <-shutdownCtx.Done():
	}

	return nil
}
