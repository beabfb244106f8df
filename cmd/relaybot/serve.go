package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/relaybot/relaybot/internal/bot"
	"github.com/relaybot/relaybot/internal/config"
	"github.com/relaybot/relaybot/internal/handlers"
	"github.com/relaybot/relaybot/internal/logger"
	"github.com/relaybot/relaybot/internal/media"
	"github.com/relaybot/relaybot/internal/policy"
	"github.com/relaybot/relaybot/internal/server"
	"github.com/relaybot/relaybot/internal/storage"
	"github.com/relaybot/relaybot/internal/uploader"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideAccountant,
			provideTranscoder,
			provideUploader,
			provideEngine,
			provideBot,
			provideHealthHandler,
			provideServer,
		),
		fx.Invoke(
			startBot,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideAccountant(log *slog.Logger, cfg config.Config) *storage.Accountant {
	return storage.NewAccountant(log, cfg.Storage.LimitGB, cfg.Storage.ThresholdGB, cfg.Upload.HasSecondary())
}

func provideTranscoder(log *slog.Logger) *media.Transcoder {
	return media.NewTranscoder(log)
}

func provideUploader(log *slog.Logger, cfg config.Config, accounts *storage.Accountant, transcoder *media.Transcoder) *uploader.Client {
	primary := uploader.Endpoint{
		URL:   cfg.Upload.PrimaryEndpoint,
		Token: cfg.Upload.PrimaryToken,
		Label: "primary",
	}
	secondary := uploader.Endpoint{
		URL:   cfg.Upload.SecondaryEndpoint,
		Token: cfg.Upload.SecondaryToken,
		Label: "secondary",
	}
	video := uploader.Endpoint{
		URL:   cfg.Upload.VideoEndpoint,
		Token: cfg.Upload.VideoToken,
		Label: "video",
	}
	return uploader.NewClient(log, primary, secondary, video, accounts, transcoder, cfg.Upload.MaxRetries)
}

func provideEngine(log *slog.Logger, cfg config.Config, up *uploader.Client) *policy.Engine {
	caps := policy.Capabilities{
		Channels:  cfg.Discord.Channels,
		Roles:     cfg.Discord.Roles,
		DMUsers:   cfg.Discord.DMUsers,
		VideoInDM: cfg.Upload.HasVideo(),
	}
	return policy.NewEngine(log, caps, up)
}

func provideBot(log *slog.Logger, cfg config.Config, engine *policy.Engine) (*bot.Bot, error) {
	return bot.New(log, cfg.Discord.BotToken, engine)
}

func provideHealthHandler(log *slog.Logger, b *bot.Bot) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log, b)
}

func provideServer(log *slog.Logger, cfg config.Config, health *handlers.HealthHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, health)
}

func startBot(lc fx.Lifecycle, b *bot.Bot, cfg config.Config, engine *policy.Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := b.Start(ctx); err != nil {
				cancel()
				return err
			}
			b.SummarizeConfig(policy.Capabilities{
				Channels:  cfg.Discord.Channels,
				Roles:     cfg.Discord.Roles,
				DMUsers:   cfg.Discord.DMUsers,
				VideoInDM: cfg.Upload.HasVideo(),
			}, cfg.Upload.HasSecondary())
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return b.Stop()
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
