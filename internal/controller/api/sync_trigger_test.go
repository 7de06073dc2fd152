package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/middlewares"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/scheduler"

	"github.com/gorilla/mux"
)

const (
	TOKEN_HEADER_CLIENT_NAME  = middlewares.PSKClientIdHeader
	TOKEN_HEADER_ACCOUNT_NAME = middlewares.PSKAccountHeader
	TOKEN_HEADER_PSK_NAME     = middlewares.PSKHeader
	URL_BASE_PATH             = "/api/crm-connector/v1"
	SYNC_ENDPOINT             = URL_BASE_PATH + "/sync"
)

type MockJobStore struct {
	enqueued []string
}

func (mjs *MockJobStore) Enqueue(ctx context.Context, queue string, operation string, args interface{}) (string, error) {
	mjs.enqueued = append(mjs.enqueued, queue+"/"+operation)
	return "c6e47b44-dd10-4bb7-a86a-803377efbe6a", nil
}

func (mjs *MockJobStore) Claim(ctx context.Context, queue string) (scheduler.Job, error) {
	return scheduler.Job{}, scheduler.ErrNoJobs
}

func (mjs *MockJobStore) Requeue(ctx context.Context, jobID string, delay time.Duration) error {
	return nil
}

func (mjs *MockJobStore) MarkRetrying(ctx context.Context, jobID string, delay time.Duration, lastError string) error {
	return nil
}

func (mjs *MockJobStore) MarkFailed(ctx context.Context, jobID string, lastError string) error {
	return nil
}

func (mjs *MockJobStore) MarkSucceeded(ctx context.Context, jobID string) error {
	return nil
}

var _ = Describe("SyncTrigger", func() {

	var (
		trigger  *SyncTrigger
		jobStore *MockJobStore
	)

	BeforeEach(func() {
		logger.InitLogger()

		jobStore = &MockJobStore{}

		apiMux := mux.NewRouter()
		cfg := config.GetConfig()
		cfg.ServiceToServiceCredentials["test_client_1"] = "12345"

		trigger = NewSyncTrigger(jobStore, apiMux, URL_BASE_PATH, cfg)
		trigger.Routes()
	})

	makeRequest := func(doc string, authenticated bool) *httptest.ResponseRecorder {
		req, err := http.NewRequest("POST", SYNC_ENDPOINT, bytes.NewBufferString(doc))
		Expect(err).NotTo(HaveOccurred())

		if authenticated {
			req.Header.Add(TOKEN_HEADER_CLIENT_NAME, "test_client_1")
			req.Header.Add(TOKEN_HEADER_ACCOUNT_NAME, "0000001")
			req.Header.Add(TOKEN_HEADER_PSK_NAME, "12345")
		}

		rr := httptest.NewRecorder()
		trigger.router.ServeHTTP(rr, req)
		return rr
	}

	Describe("Triggering a sync", func() {
		Context("With a valid request", func() {
			It("Should enqueue a pull_delta job and return 201", func() {

				rr := makeRequest(`{"workspace_id":"ws_1","provider":"hubspot","object_type":"contact","operation":"pull_delta"}`, true)

				Expect(rr.Code).To(Equal(http.StatusCreated))
				Expect(jobStore.enqueued).To(Equal([]string{"sync.hubspot/pull_delta"}))

				var response syncTriggerResponse
				Expect(json.Unmarshal(rr.Body.Bytes(), &response)).To(Succeed())
				Expect(response.JobID).NotTo(BeEmpty())
			})

			It("Should enqueue a backfill job and return 201", func() {

				rr := makeRequest(`{"workspace_id":"ws_1","provider":"zoho","object_type":"deal","operation":"backfill","limit":10}`, true)

				Expect(rr.Code).To(Equal(http.StatusCreated))
				Expect(jobStore.enqueued).To(Equal([]string{"sync.zoho/backfill"}))
			})
		})

		Context("Without credentials", func() {
			It("Should return 401", func() {

				rr := makeRequest(`{"workspace_id":"ws_1","provider":"hubspot","object_type":"contact","operation":"pull_delta"}`, false)

				Expect(rr.Code).To(Equal(http.StatusUnauthorized))
				Expect(jobStore.enqueued).To(BeEmpty())
			})
		})

		Context("With an unsupported operation", func() {
			It("Should return 400", func() {

				rr := makeRequest(`{"workspace_id":"ws_1","provider":"hubspot","object_type":"contact","operation":"drop_everything"}`, true)

				Expect(rr.Code).To(Equal(http.StatusBadRequest))
				Expect(jobStore.enqueued).To(BeEmpty())
			})
		})

		Context("With an unknown provider", func() {
			It("Should return 400", func() {

				rr := makeRequest(`{"workspace_id":"ws_1","provider":"pipedrive","object_type":"contact","operation":"pull_delta"}`, true)

				Expect(rr.Code).To(Equal(http.StatusBadRequest))
				Expect(jobStore.enqueued).To(BeEmpty())
			})
		})

		Context("With missing required fields", func() {
			It("Should return 400", func() {

				rr := makeRequest(`{"provider":"hubspot"}`, true)

				Expect(rr.Code).To(Equal(http.StatusBadRequest))
				Expect(jobStore.enqueued).To(BeEmpty())
			})
		})
	})
})
