package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/controller/api"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/db"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/platform/queue"
	"github.com/voxlane/crm-connector/internal/platform/utils"
	"github.com/voxlane/crm-connector/internal/scheduler"
	"github.com/voxlane/crm-connector/internal/sync"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// callOutcomeMessage is the shape the voice platform publishes on the call
// outcomes topic after a call wraps up.
type callOutcomeMessage struct {
	WorkspaceID string                 `json:"workspace_id"`
	Provider    string                 `json:"provider"`
	CallID      string                 `json:"call_id"`
	LocalID     string                 `json:"local_id"`
	ObjectType  string                 `json:"object_type"`
	Fields      map[string]interface{} `json:"fields"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

func startCallOutcomeConsumer(listenAddr string) {

	logger.InitLogger()
	defer logger.FlushLogger()

	logger.Log.Info("Starting CRM-Connector call outcome consumer")

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

	kafkaReader, err := queue.StartConsumer(&queue.ConsumerConfig{
		Brokers:    cfg.KafkaBrokers,
		SaslConfig: buildKafkaSaslConfig(cfg),
		Topic:      cfg.KafkaOutcomesTopic,
		GroupID:    cfg.KafkaOutcomesGroupID,
	})
	if err != nil {
		logger.LogFatalError("Failed to start Kafka consumer", err)
	}

	shutdownCtx, shutdownCtxCancel := context.WithCancel(context.Background())
	defer shutdownCtxCancel()

	// If the kafka consumer runs into a fatal error, notify the
	// main thread so that it can shutdown the process
	fatalProcessingError := make(chan struct{})

	go consumeCallOutcomes(shutdownCtx, kafkaReader, jobStore, fatalProcessingError)

	apiMux := mux.NewRouter()

	monitoringServer := api.NewMonitoringServer(apiMux, cfg, database)
	monitoringServer.Routes()

	apiSrv := utils.StartHTTPServer(listenAddr, "monitoring", apiMux)

	signalChan := make(chan os.Signal, 1)

	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		logger.Log.Info("Received signal to shutdown: ", sig)
		shutdownCtxCancel()
	case <-fatalProcessingError:
		logger.Log.Info("Received a fatal processing error...shutting down!")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HttpShutdownTimeout)
	defer cancel()

	utils.ShutdownHTTPServer(ctx, "monitoring", apiSrv)

	logger.Log.Info("CRM-Connector call outcome consumer shutting down")
}

func consumeCallOutcomes(ctx context.Context, reader *kafka.Reader, jobs scheduler.JobStore, fatalProcessingError chan struct{}) {

	defer func() {
		if err := reader.Close(); err != nil {
			logger.LogError("Error closing the call outcome consumer", err)
			return
		}
		logger.Log.Info("Call outcome consumer stopped")
	}()

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.LogError("Error reading call outcome message", err)
			close(fatalProcessingError)
			return
		}

		var outcomeMessage callOutcomeMessage
		if err := json.Unmarshal(m.Value, &outcomeMessage); err != nil {
			logger.LogError("Unable to unmarshal call outcome message", err)
			continue
		}

		provider := domain.Provider(outcomeMessage.Provider)
		if !domain.IsKnownProvider(provider) {
			logger.Log.WithFields(logrus.Fields{
				"provider": outcomeMessage.Provider,
				"call_id":  outcomeMessage.CallID}).Warn("Dropping call outcome for unknown provider")
			continue
		}

		jobID, err := jobs.Enqueue(ctx,
			scheduler.QueueName("outcomes", provider),
			operationPushOutcomes,
			outcomeJobArgs{
				WorkspaceID: outcomeMessage.WorkspaceID,
				Provider:    outcomeMessage.Provider,
				CallID:      outcomeMessage.CallID,
				Outcome: sync.OutcomeData{
					LocalID:    domain.LocalID(outcomeMessage.LocalID),
					ObjectType: domain.ObjectType(outcomeMessage.ObjectType),
					Fields:     outcomeMessage.Fields,
					OccurredAt: outcomeMessage.OccurredAt,
				},
			})
		if err != nil {
			logger.LogError("Unable to enqueue push_outcomes job", err)
			continue
		}

		logger.Log.WithFields(logrus.Fields{
			"job_id":   jobID,
			"provider": provider,
			"call_id":  outcomeMessage.CallID}).Debug("Enqueued call outcome for delivery")
	}
}
