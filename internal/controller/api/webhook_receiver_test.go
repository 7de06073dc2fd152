package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/voxlane/crm-connector/internal/config"
	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"
	"github.com/voxlane/crm-connector/internal/webhook"

	"github.com/gorilla/mux"
)

const (
	WEBHOOK_ENDPOINT = "/crm/webhook/"
)

type MockIngester struct {
	err      error
	ingested int
}

func (mi *MockIngester) Ingest(ctx context.Context, provider domain.Provider, headers http.Header, body []byte) error {
	if mi.err != nil {
		return mi.err
	}
	mi.ingested++
	return nil
}

var _ = Describe("WebhookReceiver", func() {

	var (
		receiver *WebhookReceiver
		ingester *MockIngester
		validDoc string
	)

	BeforeEach(func() {
		logger.InitLogger()

		ingester = &MockIngester{}

		apiMux := mux.NewRouter()
		cfg := config.GetConfig()

		receiver = NewWebhookReceiver(ingester, apiMux, cfg)
		receiver.Routes()

		validDoc = `{"event_id":"evt_1","workspace_id":"ws_1","object_type":"contact","remote_id":"crm_9","fields":{}}`
	})

	Describe("Delivering a webhook", func() {
		Context("With a valid signature", func() {
			It("Should return 200 and ack the delivery", func() {

				req, err := http.NewRequest("POST", WEBHOOK_ENDPOINT+"hubspot", bytes.NewBufferString(validDoc))
				Expect(err).NotTo(HaveOccurred())

				rr := httptest.NewRecorder()
				receiver.router.ServeHTTP(rr, req)

				Expect(rr.Code).To(Equal(http.StatusOK))
				Expect(ingester.ingested).To(Equal(1))
			})
		})

		Context("With a signature the verifier rejects", func() {
			It("Should return 401", func() {

				ingester.err = webhook.ErrInvalidSignature

				req, err := http.NewRequest("POST", WEBHOOK_ENDPOINT+"hubspot", bytes.NewBufferString(validDoc))
				Expect(err).NotTo(HaveOccurred())

				rr := httptest.NewRecorder()
				receiver.router.ServeHTTP(rr, req)

				Expect(rr.Code).To(Equal(http.StatusUnauthorized))
			})
		})

		Context("With a malformed payload", func() {
			It("Should return 400", func() {

				ingester.err = webhook.ErrMalformedPayload

				req, err := http.NewRequest("POST", WEBHOOK_ENDPOINT+"hubspot", bytes.NewBufferString("nope"))
				Expect(err).NotTo(HaveOccurred())

				rr := httptest.NewRecorder()
				receiver.router.ServeHTTP(rr, req)

				Expect(rr.Code).To(Equal(http.StatusBadRequest))
			})
		})

		Context("With an unknown provider", func() {
			It("Should return 404 without calling the ingester", func() {

				req, err := http.NewRequest("POST", WEBHOOK_ENDPOINT+"pipedrive", bytes.NewBufferString(validDoc))
				Expect(err).NotTo(HaveOccurred())

				rr := httptest.NewRecorder()
				receiver.router.ServeHTTP(rr, req)

				Expect(rr.Code).To(Equal(http.StatusNotFound))
				Expect(ingester.ingested).To(Equal(0))
			})
		})
	})
})
