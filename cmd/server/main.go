// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"autoref/internal/auth"
	"autoref/internal/bancho"
	"autoref/internal/config"
	"autoref/internal/database"
	"autoref/internal/handlers"
	"autoref/internal/lobby"
	"autoref/internal/middleware"
	"autoref/internal/notify"
	"autoref/internal/results"
)

func main() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	cfg := config.Load()

	// Stable keys let scheduler tokens survive restarts; without configured
	// key paths a fresh pair is generated and the token below is the only
	// way in until the next restart.
	privPath := os.Getenv("AUTH_PRIVATE_KEY_PATH")
	pubPath := os.Getenv("AUTH_PUBLIC_KEY_PATH")
	if privPath != "" && pubPath != "" {
		if err := auth.InitFromPath(privPath, pubPath); err != nil {
			logger.Fatalf("loading auth keys failed: %v", err)
		}
	} else {
		auth.Init()
	}
	schedulerToken, err := auth.CreateServiceToken("scheduler")
	if err != nil {
		logger.Fatalf("issuing scheduler token failed: %v", err)
	}
	logger.Infof("scheduler token: %s", schedulerToken)

	database.ConnectDB()
	if err := notify.ConnectRedis(); err != nil {
		logger.Fatalf("redis connection failed: %v", err)
	}

	client, err := bancho.Dial(context.Background(), bancho.Config{
		Addr:      cfg.BanchoAddr,
		Username:  cfg.BanchoUser,
		Password:  cfg.BanchoPass,
		SystemBot: cfg.BanchoSystemBot,
	}, logger)
	if err != nil {
		logger.Fatalf("bancho connection failed: %v", err)
	}

	store := database.NewPGStore()
	hub := handlers.NewOpsHub(logger)

	supervisor := lobby.NewSupervisor(
		lobby.NewRegistry(cfg.LobbyCaps),
		client,
		store,
		notify.NewQueueNotifier(),
		results.NewClient(cfg.ResultsAPIBase, cfg.ResultsAPIKey),
		cfg,
		logger,
	)
	supervisor.OpsEvent = hub.Publish

	// Every gateway event funnels through the supervisor, which routes it to
	// the lobby that owns the room.
	client.OnEvent = supervisor.Dispatch

	ops := handlers.NewOpsServer(supervisor, store, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", ops.HealthHandler)

	requireToken := middleware.RequireToken(logger)
	mux.Handle("/lobbies", requireToken(http.HandlerFunc(ops.LobbiesHandler)))
	mux.Handle("/lobbies/", requireToken(http.HandlerFunc(ops.LobbiesHandler)))
	mux.Handle("/matches/provision", requireToken(http.HandlerFunc(ops.ProvisionHandler)))
	mux.Handle("/lobbies/ws", requireToken(hub.StreamHandler()))

	handler := middleware.LogMiddleware(logger)(mux)

	logger.Infof("autoref listening on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		logger.Fatalf("http server failed: %v", err)
	}
}
