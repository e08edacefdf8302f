package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	internalhttp "github.com/contoso-cloud/gmsa-provisioner/internal/api/http"
	"github.com/contoso-cloud/gmsa-provisioner/internal/audit"
	"github.com/contoso-cloud/gmsa-provisioner/internal/directory"
	"github.com/contoso-cloud/gmsa-provisioner/internal/provisioner"
	"github.com/contoso-cloud/gmsa-provisioner/internal/report"
	"github.com/contoso-cloud/gmsa-provisioner/internal/secrets"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("gMSA Provisioner", "version", AppVersion)

	broker, err := secrets.NewBroker(config.KeyVault)
	if err != nil {
		slog.Error("Failed to initialize credential broker", "error", err)
		os.Exit(1)
	}

	connector := directory.NewLDAPConnector(config.Directory)

	var sink report.Sink
	var auditStore *audit.Store
	if config.Audit.URL != "" {
		if err := audit.RunMigrations(config.Audit.URL, config.Audit.Schema); err != nil {
			slog.Error("Audit migrations failed", "error", err)
			os.Exit(1)
		}
		auditStore, err = audit.Open(context.Background(), config.Audit)
		if err != nil {
			slog.Error("Failed to open audit database", "error", err)
			os.Exit(1)
		}
		defer auditStore.Close()
		sink = auditStore
	}

	reporter := report.NewReporter(sink)
	service := provisioner.NewService(broker, connector, config.Directory.SettleDelay)

	services := &internalhttp.Services{
		Provisioner: service,
		Tokens:      broker,
		Reporter:    reporter,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"POST", "GET"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "X-Webhook-Token", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, config.Http, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Shutdown complete")
}
