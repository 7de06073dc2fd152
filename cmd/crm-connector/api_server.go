package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/controller/api"
	"github.com/voxlane/crm-connector/internal/platform/db"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/platform/utils"
	"github.com/voxlane/crm-connector/internal/scheduler"
	"github.com/voxlane/crm-connector/internal/sync_repository"
	"github.com/voxlane/crm-connector/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/redhatinsights/platform-go-middlewares/request_id"
)

func startCrmConnectorApiServer(listenAddr string) {

	logger.InitLogger()
	defer logger.FlushLogger()

	logger.Log.Info("Starting CRM-Connector API server")

	cfg := config.GetConfig()
	logger.Log.Info("CRM-Connector configuration:\n", cfg)

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		logger.LogFatalError("Unable to connect to database: ", err)
	}

	jobStore, err := scheduler.NewSqlJobStore(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create job store", err)
	}

	webhookEventStore, err := sync_repository.NewSqlWebhookEventStore(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create webhook event store", err)
	}

	// The API server only verifies, stores and enqueues deliveries.  Record
	// application happens in the sync worker, so no applier is wired here.
	webhookService := webhook.NewService(webhook.NewVerifier(cfg), webhookEventStore, jobStore, nil, nil)

	apiMux := mux.NewRouter()
	apiMux.Use(request_id.ConfiguredRequestID("x-crm-connector-request-id"))

	monitoringServer := api.NewMonitoringServer(apiMux, cfg, database)
	monitoringServer.Routes()

	webhookReceiver := api.NewWebhookReceiver(webhookService, apiMux, cfg)
	webhookReceiver.Routes()

	syncTrigger := api.NewSyncTrigger(jobStore, apiMux, cfg.UrlBasePath, cfg)
	syncTrigger.Routes()

	apiSrv := utils.StartHTTPServer(listenAddr, "api", apiMux)

	signalChan := make(chan os.Signal, 1)

	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signalChan
	logger.Log.Info("Received signal to shutdown: ", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	utils.ShutdownHTTPServer(ctx, "api", apiSrv)

	logger.Log.Info("CRM-Connector API server shutting down")
}
