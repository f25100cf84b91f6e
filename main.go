// taskchat - conversational task manager orchestration service.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jeranaias/taskchat/internal/agent"
	"github.com/jeranaias/taskchat/internal/config"
	"github.com/jeranaias/taskchat/internal/llm"
	"github.com/jeranaias/taskchat/internal/server"
	"github.com/jeranaias/taskchat/internal/task"
	"github.com/jeranaias/taskchat/internal/tools"
	"github.com/jeranaias/taskchat/internal/transcript"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "taskchat.toml", "path to the TOML config file")
	flag.Parse()

	// Local .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("DOTENV_SKIPPED | err=%v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("CONFIG_INVALID | err=%v", err)
	}
	log.Printf("CONFIG_LOADED | version=%s commit=%s %s", Version, GitCommit, cfg)

	taskStore, err := task.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("TASK_STORE_OPEN_FAILED | err=%v", err)
	}
	defer taskStore.Close()

	transcriptStore, err := transcript.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("TRANSCRIPT_STORE_OPEN_FAILED | err=%v", err)
	}
	defer transcriptStore.Close()

	client := llm.NewClient(llm.Config{
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
		Model:   cfg.Model.Model,
		Timeout: cfg.ModelTimeout(),
	})
	if !client.IsConfigured() {
		log.Printf("MODEL_KEY_MISSING | set TASKCHAT_API_KEY or OPENAI_API_KEY")
	}

	executor := tools.NewExecutor(taskStore)
	runner := agent.New(client, executor, tools.Catalog(), cfg.Agent.MaxRounds)

	srv := server.NewServer(cfg.Server.Port, runner, transcriptStore).
		WithRateLimiter(server.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)).
		WithWriteTimeout(cfg.WriteTimeout())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.Printf("SERVER_STOPPING | signal=%s", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("SERVER_SHUTDOWN_ERROR | err=%v", err)
		}
	case err := <-errCh:
		log.Fatalf("SERVER_FAILED | err=%v", err)
	}
}
