package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxlane/crm-connector/internal/alerting"
	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/controller/api"
	"github.com/voxlane/crm-connector/internal/crmclient"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/db"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/platform/queue"
	"github.com/voxlane/crm-connector/internal/platform/utils"
	"github.com/voxlane/crm-connector/internal/ratelimit"
	"github.com/voxlane/crm-connector/internal/retry"
	"github.com/voxlane/crm-connector/internal/scheduler"
	"github.com/voxlane/crm-connector/internal/sync"
	"github.com/voxlane/crm-connector/internal/sync_repository"
	"github.com/voxlane/crm-connector/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

const (
	operationPullDelta    = "pull_delta"
	operationBackfill     = "backfill"
	operationPushOutcomes = "push_outcomes"
)

// outcomeJobArgs is the payload carried by push_outcomes jobs.  The outcome
// consumer produces it and the sync worker consumes it.
type outcomeJobArgs struct {
	WorkspaceID string           `json:"workspace_id"`
	Provider    string           `json:"provider"`
	CallID      string           `json:"call_id"`
	Outcome     sync.OutcomeData `json:"outcome"`
}

func buildRateLimiter(cfg *config.Config) ratelimit.Limiter {

	settings := make(map[domain.Provider]ratelimit.Settings)
	for provider, providerSettings := range cfg.Providers {
		settings[provider] = ratelimit.Settings{
			RequestsPerSecond: providerSettings.RequestsPerSecond,
			BurstLimit:        providerSettings.BurstLimit,
		}
	}

	if cfg.RateLimiterRedisAddress != "" {
		logger.Log.Info("Using the redis backed rate limiter: ", cfg.RateLimiterRedisAddress)
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimiterRedisAddress,
			Password: cfg.RateLimiterRedisPassword,
			DB:       cfg.RateLimiterRedisDB,
		})
		return ratelimit.NewRedisTokenBucket(client, settings)
	}

	logger.Log.Info("Using the in-process rate limiter")
	return ratelimit.NewLocalTokenBucket(settings)
}

func buildRetryPolicy(cfg *config.Config) *retry.Policy {

	settings := make(map[domain.Provider]retry.Settings)
	for provider, providerSettings := range cfg.Providers {
		settings[provider] = retry.Settings{
			MaxAttempts: providerSettings.MaxAttempts,
			BackoffBase: providerSettings.RetryBackoffBase,
			BackoffMax:  providerSettings.RetryBackoffMax,
		}
	}

	return retry.NewPolicy(settings)
}

func buildClientRegistry(cfg *config.Config) *crmclient.Registry {

	registry := crmclient.NewRegistry()

	for _, provider := range domain.KnownProviders {
		settings := cfg.Providers[provider]
		if settings.BaseURL == "" {
			logger.Log.Warn("No gateway base URL configured for provider ", provider)
			continue
		}
		registry.Register(provider, crmclient.NewRESTClient(provider,
			settings.BaseURL,
			crmclient.StaticTokenSource(settings.GatewayToken),
			settings.CallTimeout))
	}

	return registry
}

func buildKafkaSaslConfig(cfg *config.Config) *queue.SaslConfig {
	if cfg.KafkaSASLMechanism == "" {
		return nil
	}
	return &queue.SaslConfig{
		SaslMechanism: cfg.KafkaSASLMechanism,
		SaslUsername:  cfg.KafkaUsername,
		SaslPassword:  cfg.KafkaPassword,
		KafkaCA:       cfg.KafkaCA,
	}
}

func buildAlertEngine(cfg *config.Config) *alerting.Engine {

	handlers := []alerting.Handler{alerting.NewLoggingHandler()}

	if cfg.KafkaAlertsTopic != "" && len(cfg.KafkaBrokers) > 0 {
		alertsWriter := queue.StartProducer(&queue.ProducerConfig{
			Brokers:    cfg.KafkaBrokers,
			SaslConfig: buildKafkaSaslConfig(cfg),
			Topic:      cfg.KafkaAlertsTopic,
			BatchSize:  cfg.KafkaAlertsBatchSize,
			BatchBytes: cfg.KafkaAlertsBatchBytes,
		})
		handlers = append(handlers, alerting.NewKafkaHandler(alertsWriter))
	}

	return alerting.NewEngine(cfg, handlers...)
}

func buildWorkerQueues() []string {
	var queues []string
	for _, provider := range domain.KnownProviders {
		queues = append(queues,
			scheduler.QueueName("sync", provider),
			scheduler.QueueName("outcomes", provider),
			scheduler.QueueName("webhook", provider))
	}
	return queues
}

func startCrmSyncWorker(listenAddr string) {

	logger.InitLogger()
	defer logger.FlushLogger()

	logger.Log.Info("Starting CRM-Connector sync worker")

	cfg := config.GetConfig()
	logger.Log.Info("CRM-Connector configuration:\n", cfg)

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		logger.LogFatalError("Unable to connect to database: ", err)
	}

	cursorStore, err := sync_repository.NewSqlSyncCursorStore(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create sync cursor store", err)
	}

	linkStore, err := sync_repository.NewSqlEntityLinkStore(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create entity link store", err)
	}

	syncLogWriter, err := sync_repository.NewSqlSyncLogWriter(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create sync log writer", err)
	}

	idempotencyStore, err := sync_repository.NewSqlIdempotencyKeyStore(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create idempotency key store", err)
	}

	connectionStore, err := sync_repository.NewSqlProviderConnectionStore(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create provider connection store", err)
	}

	fieldMappingStore, err := sync_repository.NewSqlFieldMappingStore(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create field mapping store", err)
	}

	webhookEventStore, err := sync_repository.NewSqlWebhookEventStore(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create webhook event store", err)
	}

	localRecordStore, err := sync.NewSqlLocalRecordStore(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create local record store", err)
	}

	jobStore, err := scheduler.NewSqlJobStore(cfg, database)
	if err != nil {
		logger.LogFatalError("Unable to create job store", err)
	}

	alertEngine := buildAlertEngine(cfg)

	syncService := sync.NewCrmSyncService(cfg,
		buildClientRegistry(cfg),
		cursorStore,
		linkStore,
		syncLogWriter,
		idempotencyStore,
		connectionStore,
		localRecordStore,
		sync.NewFieldMapper(cfg, fieldMappingStore),
		alertEngine,
		utils.GetHostname())

	webhookService := webhook.NewService(webhook.NewVerifier(cfg),
		webhookEventStore, jobStore, syncService, alertEngine)

	jobScheduler := scheduler.NewScheduler(cfg, jobStore,
		buildRateLimiter(cfg), buildRetryPolicy(cfg), syncLogWriter, alertEngine)

	jobScheduler.RegisterHandler(operationPullDelta, func(ctx context.Context, job scheduler.Job) error {
		var args api.SyncJobArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return crmclient.NewMalformedError(err)
		}
		_, err := syncService.PullDelta(ctx,
			domain.WorkspaceID(args.WorkspaceID),
			domain.Provider(args.Provider),
			domain.ObjectType(args.ObjectType))
		return err
	})

	jobScheduler.RegisterHandler(operationBackfill, func(ctx context.Context, job scheduler.Job) error {
		var args api.SyncJobArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return crmclient.NewMalformedError(err)
		}
		_, err := syncService.Backfill(ctx,
			domain.WorkspaceID(args.WorkspaceID),
			domain.Provider(args.Provider),
			domain.ObjectType(args.ObjectType),
			args.Limit)
		return err
	})

	jobScheduler.RegisterHandler(operationPushOutcomes, func(ctx context.Context, job scheduler.Job) error {
		var args outcomeJobArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return crmclient.NewMalformedError(err)
		}
		_, err := syncService.PushOutcomes(ctx,
			domain.WorkspaceID(args.WorkspaceID),
			domain.Provider(args.Provider),
			args.CallID,
			args.Outcome)
		return err
	})

	jobScheduler.RegisterHandler(webhook.OperationProcessWebhook, func(ctx context.Context, job scheduler.Job) error {
		var args webhook.ProcessArgs
		if err := json.Unmarshal(job.Args, &args); err != nil {
			return crmclient.NewMalformedError(err)
		}
		return webhookService.Process(ctx, args.Provider, args.EventID)
	})

	monitoringMux := mux.NewRouter()
	monitoringServer := api.NewMonitoringServer(monitoringMux, cfg, database)
	monitoringServer.Routes()

	monitoringSrv := utils.StartHTTPServer(listenAddr, "monitoring", monitoringMux)

	workerCtx, stopWorkers := context.WithCancel(context.Background())

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signalChan
		logger.Log.Info("Received signal to shutdown: ", sig)
		stopWorkers()
	}()

	jobScheduler.StartWorkers(workerCtx, buildWorkerQueues())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	utils.ShutdownHTTPServer(ctx, "monitoring", monitoringSrv)

	logger.Log.Info("CRM-Connector sync worker shutting down")
}
