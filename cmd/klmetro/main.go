package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/klmetro-live/internal/api"
	"github.com/klmetro-live/internal/broadcast"
	"github.com/klmetro-live/internal/common/config"
	"github.com/klmetro-live/internal/common/db"
	"github.com/klmetro-live/internal/common/discord"
	"github.com/klmetro-live/internal/common/logger"
	"github.com/klmetro-live/internal/common/maintenance"
	"github.com/klmetro-live/internal/common/metrics"
	"github.com/klmetro-live/internal/simulation"
	"github.com/klmetro-live/internal/store"
	"github.com/klmetro-live/internal/topology"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.NewWithLevel(
		logger.ParseLevel(cfg.Logging.Level),
		logger.ConsoleWriter(),
		logger.FileWriter(cfg.Logging.FilePath),
	)

	log.Info("KL Metro live service starting",
		"log_level", cfg.Logging.Level,
		"network_file", cfg.Topology.NetworkFile,
		"tick_min", cfg.Simulation.TickMin,
		"tick_max", cfg.Simulation.TickMax,
	)

	shutdownMetrics, err := metrics.Init(metrics.Config{
		Enabled:  cfg.Metrics.Enabled,
		Endpoint: cfg.Metrics.Endpoint,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize metrics", "error", err)
	}
	defer shutdownMetrics()

	database, err := db.New(cfg.Database.ConnectionString(), log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.NewSchemaChecker(database).Check(ctx); err != nil {
		log.Fatal("Database schema check failed", "error", err)
	}

	topo, err := topology.LoadFile(cfg.Topology.NetworkFile)
	if err != nil {
		log.Fatal("Failed to load network topology", "error", err)
	}
	log.Info("Network topology loaded",
		"lines", len(topo.Lines()),
		"stations", len(topo.Stations()),
	)

	positionStore := store.New(database, log)

	// Broadcast hub: websocket subscribers plus the UDP multicast feed.
	hub := broadcast.NewHub(log)

	var alerts *discord.Client
	if cfg.Logging.DiscordURL != "" {
		alerts = discord.NewClient(cfg.Logging.DiscordURL)
	}

	manager := simulation.NewManager(cfg.Simulation, topo, positionStore, hub, log)

	wsSink := broadcast.NewSubscriberSink(broadcast.SubscriberSinkConfig{
		QueueSize:    cfg.Broadcast.SubscriberQueue,
		WriteTimeout: cfg.Broadcast.WriteTimeout,
	}, positionStore, manager.Engine().Snapshot, log)
	hub.AddSink(wsSink)

	mcSink, err := broadcast.NewMulticastSink(cfg.Broadcast.MulticastGroup, cfg.Broadcast.MulticastPort, log)
	if err != nil {
		log.Fatal("Failed to open multicast sink", "error", err)
	}
	hub.AddSink(mcSink)

	if err := manager.Start(ctx); err != nil {
		log.Fatal("Failed to start simulation", "error", err)
	}
	defer manager.Stop()

	schedulerCfg := maintenance.DefaultSchedulerConfig()
	schedulerCfg.CleanupInterval = cfg.Maintenance.CleanupInterval
	schedulerCfg.HistoryRetention = cfg.Maintenance.HistoryRetention
	cleanup := maintenance.NewCleanupScheduler(database, log, schedulerCfg, alerts)
	if err := cleanup.Start(ctx); err != nil {
		log.Fatal("Failed to start cleanup scheduler", "error", err)
	}
	defer cleanup.Stop()

	handlers := api.NewHandlers(topo, positionStore, positionStore, log)
	server := api.NewServer(api.ServerConfig{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, handlers, wsSink, log)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			log.Error("HTTP server failed", "error", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}

	hub.Close()
	manager.Stop()
	cleanup.Stop()

	log.Info("KL Metro live service stopped")
}
