// Package main is the entry point for the boardwatch dashboard backend.
// One binary serves the control socket, the terminal socket, the file
// transfer socket, and the login endpoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/boardwatch/boardwatch/internal/auth"
	"github.com/boardwatch/boardwatch/internal/common/config"
	"github.com/boardwatch/boardwatch/internal/common/httpmw"
	"github.com/boardwatch/boardwatch/internal/common/logger"
	"github.com/boardwatch/boardwatch/internal/gateway"
	"github.com/boardwatch/boardwatch/internal/services"
	"github.com/boardwatch/boardwatch/internal/session"
	"github.com/boardwatch/boardwatch/internal/software"
	"github.com/boardwatch/boardwatch/internal/sysinfo"
	"github.com/boardwatch/boardwatch/internal/terminal"
	"github.com/boardwatch/boardwatch/internal/transfer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting boardwatch...")

	guard := auth.NewGuard(cfg.Auth.Enabled, cfg.Auth.PasswordHash, cfg.Auth.Secret, cfg.Auth.TokenExpiryDuration())
	if guard.Enabled() {
		log.Info("Password protection enabled",
			zap.Int("token_expiry_seconds", cfg.Auth.TokenExpiry))
	} else {
		log.Warn("Password protection disabled")
	}

	collector := sysinfo.NewCollector(cfg.System.UpdateFile, cfg.System.UpgradesFile, log)
	serviceProvider := services.NewProvider(cfg.System.SystemctlCommand, log)
	softwareProvider := software.NewProvider(cfg.System.CatalogCommand, log)
	if !softwareProvider.Available() {
		log.Info("Software catalog command not configured, software page will be empty")
	}

	power := func(ctx context.Context, action string) error {
		arg := "poweroff"
		if action == "reboot" {
			arg = "reboot"
		}
		return exec.CommandContext(ctx, cfg.System.SystemctlCommand, arg).Run()
	}

	pages := session.NewPages(collector, serviceProvider, softwareProvider, power,
		cfg.Session.SnapshotIntervalDuration(), log)
	router := session.NewRouter(guard, globalAdapter{collector}, pages.Handlers(), log)
	bridge := terminal.NewBridge(guard, cfg.Terminal.User, cfg.Terminal.Shell, log)
	files := transfer.NewHandler(guard, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(httpmw.RequestLogger(log))
	engine.Use(httpmw.SecurityHeaders())

	gw := gateway.New(guard, router, bridge, files, log)
	gw.SetupRoutes(engine)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: engine,
	}

	go func() {
		log.Info("Dashboard listening",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down boardwatch...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("boardwatch stopped")
}

// globalAdapter exposes the collector's update notice as the control
// socket's connection-open snapshot.
type globalAdapter struct {
	collector *sysinfo.Collector
}

func (g globalAdapter) Global() interface{} {
	return g.collector.Global()
}
