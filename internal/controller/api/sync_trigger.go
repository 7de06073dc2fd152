package api

import (
	"net/http"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/middlewares"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/scheduler"

	"github.com/gorilla/mux"
	"github.com/redhatinsights/platform-go-middlewares/request_id"
	"github.com/sirupsen/logrus"
)

// SyncTrigger is the PSK-secured admin surface for enqueueing pull_delta and
// backfill operations.
type SyncTrigger struct {
	jobs      scheduler.JobStore
	router    *mux.Router
	config    *config.Config
	urlPrefix string
}

func NewSyncTrigger(jobs scheduler.JobStore, r *mux.Router, urlPrefix string, cfg *config.Config) *SyncTrigger {
	return &SyncTrigger{
		jobs:      jobs,
		router:    r,
		config:    cfg,
		urlPrefix: urlPrefix,
	}
}

func (st *SyncTrigger) Routes() {
	mmw := &middlewares.MetricsMiddleware{}
	amw := &middlewares.AuthMiddleware{Secrets: st.config.ServiceToServiceCredentials}

	securedSubRouter := st.router.PathPrefix(st.urlPrefix).Subrouter()
	securedSubRouter.Use(logger.AccessLoggerMiddleware,
		mmw.RecordHTTPMetrics,
		amw.Authenticate)

	securedSubRouter.HandleFunc("/sync", st.handleSyncTrigger()).Methods(http.MethodPost)
}

type syncTriggerRequest struct {
	WorkspaceID string `json:"workspace_id" validate:"required"`
	Provider    string `json:"provider" validate:"required"`
	ObjectType  string `json:"object_type" validate:"required"`
	Operation   string `json:"operation" validate:"required,oneof=pull_delta backfill"`
	Limit       int    `json:"limit"`
}

type syncTriggerResponse struct {
	JobID string `json:"id"`
}

// SyncJobArgs is the job payload for the pull_delta and backfill handlers.
type SyncJobArgs struct {
	WorkspaceID string `json:"workspace_id"`
	Provider    string `json:"provider"`
	ObjectType  string `json:"object_type"`
	Limit       int    `json:"limit,omitempty"`
}

func (st *SyncTrigger) handleSyncTrigger() http.HandlerFunc {

	return func(w http.ResponseWriter, req *http.Request) {

		principal, _ := middlewares.GetPrincipal(req.Context())
		requestId := request_id.GetReqID(req.Context())
		log := logger.Log.WithFields(logrus.Fields{
			"account":    principal.GetAccount(),
			"request_id": requestId})

		var triggerRequest syncTriggerRequest

		body := http.MaxBytesReader(w, req.Body, 1048576)

		if err := decodeJSON(body, &triggerRequest); err != nil {
			errMsg := "Unable to process json input"
			log.WithFields(logrus.Fields{"error": err}).Debug(errMsg)
			errorResponse := errorResponse{Title: errMsg,
				Status: http.StatusBadRequest,
				Detail: err.Error()}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		provider := domain.Provider(triggerRequest.Provider)
		if !domain.IsKnownProvider(provider) {
			errMsg := "Unknown provider"
			log.Debug(errMsg)
			errorResponse := errorResponse{Title: errMsg,
				Status: http.StatusBadRequest,
				Detail: triggerRequest.Provider}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		log = log.WithFields(logrus.Fields{
			"workspace":   triggerRequest.WorkspaceID,
			"provider":    provider,
			"object_type": triggerRequest.ObjectType,
			"operation":   triggerRequest.Operation})
		log.Info("Enqueueing a sync operation")

		jobID, err := st.jobs.Enqueue(req.Context(),
			scheduler.QueueName("sync", provider),
			triggerRequest.Operation,
			SyncJobArgs{
				WorkspaceID: triggerRequest.WorkspaceID,
				Provider:    triggerRequest.Provider,
				ObjectType:  triggerRequest.ObjectType,
				Limit:       triggerRequest.Limit,
			})
		if err != nil {
			errMsg := "Unable to enqueue sync operation"
			logger.LogError(errMsg, err)
			errorResponse := errorResponse{Title: errMsg,
				Status: http.StatusInternalServerError,
				Detail: errMsg}
			writeJSONResponse(w, errorResponse.Status, errorResponse)
			return
		}

		writeJSONResponse(w, http.StatusCreated, syncTriggerResponse{JobID: jobID})
	}
}
