package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"droneDispatch/internal/config"
	"droneDispatch/internal/db"
	"droneDispatch/internal/dispatch"
	"droneDispatch/internal/mqtt"
	"droneDispatch/repository"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("configuration error", zap.Error(err))
	}
	log.Info("starting dispatch engine", zap.String("config", cfg.String()))

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal("database open failed", zap.Error(err))
	}
	defer func() { _ = database.Close() }()

	drones := repository.NewDroneRepository(database)
	orders := repository.NewOrderRepository(database)
	jobs := repository.NewJobRepository(database)
	faults := repository.NewBreakageRepository(database)

	ledger := dispatch.NewOrderService(orders, jobs, drones, cfg.Service, log)
	telemetry := dispatch.NewTelemetryService(drones, orders, jobs, ledger, cfg.Service, log)
	rescue := dispatch.NewRescueService(drones, orders, jobs, faults, ledger, log)
	scheduler := dispatch.NewSchedulerService(jobs, orders, drones, faults, cfg.Service, log)

	client := mqtt.NewClient(cfg.MQTT, log)
	if err := client.Start(); err != nil {
		log.Fatal("mqtt connect failed", zap.Error(err))
	}

	bridge := mqtt.NewBridge(client, telemetry, rescue, cfg.Auth.JWTSecret, log)
	if err := bridge.Start(); err != nil {
		log.Fatal("mqtt subscriptions failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go scheduler.RunReconciler(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	<-scheduler.Stopped()
	client.Stop()
}
