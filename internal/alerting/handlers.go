package alerting

import (
	"context"
	"encoding/json"

	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// LoggingHandler writes every alert to the service log.  It is always
// registered.
type LoggingHandler struct {
}

func NewLoggingHandler() *LoggingHandler {
	return &LoggingHandler{}
}

func (lh *LoggingHandler) Handle(ctx context.Context, alert Alert) error {
	logger.Log.WithFields(logrus.Fields{
		"type":     alert.Type,
		"severity": alert.Severity,
		"provider": alert.Provider,
		"context":  alert.Context}).Warn(alert.Message)
	return nil
}

// KafkaHandler publishes alerts to the operator notification topic.
type KafkaHandler struct {
	writer *kafka.Writer
}

func NewKafkaHandler(writer *kafka.Writer) *KafkaHandler {
	return &KafkaHandler{
		writer: writer,
	}
}

func (kh *KafkaHandler) Handle(ctx context.Context, alert Alert) error {

	message, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	err = kh.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.Provider),
		Value: message,
	})
	if err != nil {
		logger.LogError("Unable to publish alert to kafka", err)
	}

	return err
}
