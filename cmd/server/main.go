package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/RichardoC/ollama-chat/internal/api"
	"github.com/RichardoC/ollama-chat/internal/auth"
	"github.com/RichardoC/ollama-chat/internal/chats"
	"github.com/RichardoC/ollama-chat/internal/config"
	"github.com/RichardoC/ollama-chat/internal/db"
	"github.com/RichardoC/ollama-chat/internal/llm"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func run(cfg *config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Database.Driver, err)
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()

	var chatOpts []chats.Option
	if cfg.Inference.TitleModel != "" {
		titler, err := llm.NewTitler(cfg.Inference.BaseURL, cfg.Inference.TitleModel)
		if err != nil {
			return fmt.Errorf("failed to initialize title model: %w", err)
		}
		chatOpts = append(chatOpts, chats.WithTitler(titler))
		logger.Info("generating chat titles", zap.String("model", cfg.Inference.TitleModel))
	}

	authService := auth.NewService(store, auth.Config{
		Secret:     []byte(cfg.Auth.Secret),
		TokenTTL:   cfg.Auth.TokenTTL,
		BcryptCost: cfg.Auth.BcryptCost,
	}, logger)
	chatService := chats.NewService(store, logger, chatOpts...)
	proxy := llm.NewProxy(llm.ProxyConfig{
		BaseURL:       cfg.Inference.BaseURL,
		DefaultModel:  cfg.Inference.DefaultModel,
		HeaderTimeout: cfg.Inference.HeaderTimeout,
	}, logger)

	handler := api.NewHandler(authService, chatService, proxy, store, logger, api.Options{
		CookieSecure:      cfg.Server.CookieSecure,
		StaticDir:         cfg.Server.StaticDir,
		TrustProxyHeaders: cfg.Server.TrustedProxy,
		LoginRate:         cfg.Auth.LoginRate,
		LoginBurst:        cfg.Auth.LoginBurst,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("driver", cfg.Database.Driver),
			zap.String("inference", cfg.Inference.BaseURL))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}
