// Command finagent runs the financial analysis agent as an HTTP service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/joho/godotenv"

	"github.com/maplemetrics/finagent"
	"github.com/maplemetrics/finagent/config"
	"github.com/maplemetrics/finagent/logging"
	"github.com/maplemetrics/finagent/model"
	"github.com/maplemetrics/finagent/model/anthropic"
	"github.com/maplemetrics/finagent/model/openai"
	"github.com/maplemetrics/finagent/server"
)

func main() {
	// A missing .env file is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	logger, err := logging.NewZapLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	llm, err := buildModel(cfg)
	if err != nil {
		log.Fatalf("model: %v", err)
	}

	ag := finagent.New(llm, func(o *finagent.Options) {
		o.ServerConfigs = cfg.ToServerConfigs()
		o.MaxContextTokens = cfg.MaxContextTokens
		o.MaxSummaryTokens = cfg.MaxSummaryTokens
		o.MaxIterations = cfg.MaxIterations
		o.ModelTimeout = cfg.ModelTimeout
		o.ToolTimeout = cfg.ToolTimeout
		o.Logger = logger
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	err = ag.Initialize(initCtx)
	cancel()
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer ag.Close()

	for _, d := range ag.Tools() {
		logger.Info("tool available", "name", d.Name)
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.NewHandler(ag, logger).Router(),
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "provider", cfg.ModelProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

func buildModel(cfg *config.Config) (model.Model, error) {
	switch cfg.ModelProvider {
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.ModelID != "" {
				o.Model = anthropicsdk.Model(cfg.ModelID)
			}
			if cfg.AnthropicKey != "" {
				o.APIKey = cfg.AnthropicKey
			}
		}), nil
	default:
		return openai.NewModel(func(o *openai.Options) {
			if cfg.ModelID != "" {
				o.Model = cfg.ModelID
			}
			if cfg.OpenAIAPIKey != "" {
				o.APIKey = cfg.OpenAIAPIKey
			}
		}), nil
	}
}
