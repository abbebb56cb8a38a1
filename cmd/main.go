package main

import (
	"chat-relay/auth"
	adminserver "chat-relay/infrastructure/grpc/server"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"chat-relay/transport"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a signal or a server failure.
// Returning instead of exiting lets the deferred store close run.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Store
	gateway, err := repositories.OpenGateway(config.StoreDriver, config.BadgerFilepath, config.SQLDsn, log)
	if err != nil {
		return fmt.Errorf("store opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing store", "driver", config.StoreDriver)
		if err := gateway.Close(); err != nil {
			log.Error("Store close failed", "error", err)
		}
	}()

	// 3. Services
	replacement, err := CharacterRune(config.CharacterReplacement)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	moderator, err := moderation.NewModerator(moderation.ParseWords(config.CensoredWords), replacement, log)
	if err != nil {
		return fmt.Errorf("moderation setup failed: %w", err)
	}
	stats := observability.NewMonitoringManager(log)
	registry := runtime.NewRegistry(log)
	router := services.NewMessageRouter(log, gateway, registry, moderator, stats)
	authService := services.NewAuthService(log, gateway, auth.NewPasswordVerifier(auth.DefaultParams), registry, router, stats)
	supervisor := services.NewConnectionSupervisor(log, authService, router)

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Relay listener
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	server := transport.NewServer(log, supervisor, transport.Options{
		MailboxSize:     config.MailboxSize,
		WriteTimeout:    config.WriteTimeout,
		IdleTimeout:     config.IdleTimeout,
		MaxEnvelopeSize: config.MaxEnvelopeSize,
	})

	errChan := make(chan error, 2)
	go func() {
		log.Info("Starting relay", "address", address, "store", config.StoreDriver, "at", time.Now().UTC())
		if err := server.Serve(listener); err != nil {
			errChan <- fmt.Errorf("relay server error: %w", err)
		}
	}()

	// 6. Admin health endpoint
	var admin *adminserver.AdminServer
	if config.AdminPort != 0 {
		adminAddress := fmt.Sprintf("%s:%d", config.Host, config.AdminPort)
		adminListener, err := net.Listen("tcp", adminAddress)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", adminAddress, err)
		}
		admin = adminserver.NewAdminServer(log)
		go func() {
			if err := admin.Serve(adminListener); err != nil {
				errChan <- err
			}
		}()
		admin.SetServing(true)
	}

	// 7. Background workers
	sup := workers.NewSupervisor(log, config.RestartInterval)
	telemetry := workers.NewTelemetryWorker(log, config.MetricInterval, stats, registry.Count, server.Live)
	supDone := make(chan struct{})
	go func() {
		sup.Add(telemetry).Run(ctx)
		close(supDone)
	}()

	// 8. Wait for Stop or Error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case serveErr = <-errChan:
		log.Error("Server failed, shutting down", "error", serveErr)
		stop()
	}

	// 9. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if admin != nil {
		admin.SetServing(false)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Relay shutdown incomplete", "error", err)
	}
	sup.Stop()
	<-supDone
	if admin != nil {
		admin.Stop(shutdownCtx)
	}
	log.Info("Relay stopped", "accepted", server.Accepted(), "stats", stats.GetLatest())
	return serveErr
}
