package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/2001J/nebular-power-sub002/config"
	"github.com/2001J/nebular-power-sub002/database"
	"github.com/2001J/nebular-power-sub002/handlers"
	"github.com/2001J/nebular-power-sub002/logging"
	"github.com/2001J/nebular-power-sub002/mqtt"
	"github.com/2001J/nebular-power-sub002/redis"
	"github.com/2001J/nebular-power-sub002/scheduler"
	"github.com/2001J/nebular-power-sub002/services"
	"github.com/2001J/nebular-power-sub002/utils"

	"github.com/2001J/nebular-power-sub002/models"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// transportHolder defers the device transport binding until the MQTT client
// exists. Publishing before the client is set fails cleanly and the command
// row records the failure.
type transportHolder struct {
	mu     sync.RWMutex
	target services.DeviceTransport
}

func (t *transportHolder) set(target services.DeviceTransport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.target = target
}

func (t *transportHolder) PublishCommand(ctx context.Context, installationID uint, msg *models.CommandMessage) error {
	t.mu.RLock()
	target := t.target
	t.mu.RUnlock()
	if target == nil {
		return errors.New("device transport not connected")
	}
	return target.PublishCommand(ctx, installationID, msg)
}

func main() {
	cfg := config.LoadConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("Starting solar service control", "listen_addr", cfg.ListenAddr)

	db, err := database.NewDatabase(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}

	redisClient, err := redis.NewRedisClient(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	notifier := services.NewNotificationService(redisClient, logger)

	statusSvc := services.NewServiceStatusService(
		db.UoW, db.StatusRepo, db.InstallationRepo, db.ActionRepo, db.OpLogRepo, db.CommandRepo,
		redisClient, notifier, logger)

	heartbeatSvc := services.NewHeartbeatService(db.UoW, db.InstallationRepo, db.OpLogRepo, redisClient, logger)

	// The MQTT client needs the command service for responses, and the
	// command service needs the client as its transport. Connect the broker
	// first with the command service wired in afterwards via the transport
	// holder.
	transport := &transportHolder{}
	cmdSvc := services.NewDeviceCommandService(
		db.UoW, db.CommandRepo, db.InstallationRepo, db.OpLogRepo,
		transport, notifier, cfg, logger)
	statusSvc.SetDispatcher(cmdSvc)

	mqttClient, err := mqtt.NewClient(cfg, cmdSvc, heartbeatSvc, logger)
	if err != nil {
		logger.Error("Failed to initialize MQTT client", "error", err)
		os.Exit(1)
	}
	defer mqttClient.Disconnect()
	transport.set(mqttClient)

	paymentSvc := services.NewPaymentIntegrationService(
		db.UoW, db.PaymentRepo, db.StatusRepo, db.OpLogRepo, statusSvc, cfg, logger)
	securitySvc := services.NewSecurityIntegrationService(
		db.UoW, db.OpLogRepo, statusSvc, notifier, logger)
	auditSvc := services.NewAuditService(db.ActionRepo, db.OpLogRepo, logger)

	sweeps, err := scheduler.New(cfg, statusSvc, cmdSvc, paymentSvc, logger)
	if err != nil {
		logger.Error("Failed to initialize scheduler", "error", err)
		os.Exit(1)
	}
	if err := sweeps.Start(); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sweeps.Shutdown()

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handlers.CustomHTTPErrorHandler
	handlers.SetErrorLogger(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, utils.SuccessResponse("ok", nil))
	})

	api := e.Group("/api/v1")
	handlers.NewStatusHandler(statusSvc, heartbeatSvc).Register(api)
	handlers.NewCommandHandler(cmdSvc).Register(api)
	handlers.NewIntegrationHandler(paymentSvc, securitySvc, heartbeatSvc).Register(api)
	handlers.NewAuditHandler(auditSvc).Register(api)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server stopped", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("Shutdown complete")
}
