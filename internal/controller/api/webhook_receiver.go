package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/middlewares"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/webhook"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// WebhookIngester is the slice of the webhook service this receiver needs.
type WebhookIngester interface {
	Ingest(ctx context.Context, provider domain.Provider, headers http.Header, body []byte) error
}

type WebhookReceiver struct {
	ingester WebhookIngester
	router   *mux.Router
	config   *config.Config
}

func NewWebhookReceiver(ingester WebhookIngester, r *mux.Router, cfg *config.Config) *WebhookReceiver {
	return &WebhookReceiver{
		ingester: ingester,
		router:   r,
		config:   cfg,
	}
}

func (wr *WebhookReceiver) Routes() {
	mmw := &middlewares.MetricsMiddleware{}

	// Webhook deliveries authenticate with the provider signature, not PSKs.
	subRouter := wr.router.PathPrefix("/crm/webhook").Subrouter()
	subRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics)

	subRouter.HandleFunc("/{provider}", wr.handleWebhook()).Methods(http.MethodPost)
}

func (wr *WebhookReceiver) handleWebhook() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		provider := domain.Provider(mux.Vars(req)["provider"])

		log := logger.Log.WithFields(logrus.Fields{"provider": provider})

		if !domain.IsKnownProvider(provider) {
			errMsg := "Unknown provider"
			log.Debug(errMsg)
			errorResponse := errorResponse{Title: errMsg,
				Status: http.StatusNotFound,
				Detail: provider.String()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, 1048576))
		if err != nil {
			errMsg := "Unable to read request body"
			log.WithFields(logrus.Fields{"error": err}).Debug(errMsg)
			errorResponse := errorResponse{Title: errMsg,
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		err = wr.ingester.Ingest(req.Context(), provider, req.Header, body)

		if errors.Is(err, webhook.ErrInvalidSignature) {
			errMsg := "Webhook signature verification failed"
			log.Debug(errMsg)
			errorResponse := errorResponse{Title: errMsg,
				Status: http.StatusUnauthorized,
				Detail: errMsg}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		if errors.Is(err, webhook.ErrMalformedPayload) {
			errMsg := "Unable to process webhook payload"
			log.WithFields(logrus.Fields{"error": err}).Debug(errMsg)
			errorResponse := errorResponse{Title: errMsg,
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		if err != nil {
			errMsg := "Unable to ingest webhook"
			logger.LogError(errMsg, err)
			errorResponse := errorResponse{Title: errMsg,
				Status: http.StatusInternalServerError,
				Detail: errMsg}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		// Duplicates ack exactly like first deliveries so the provider stops
		// retrying.
		writeJSONResponse(w, http.StatusOK, struct {
			Status string `json:"status"`
		}{Status: "accepted"})
	}
}
