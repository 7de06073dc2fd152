package crmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voxlane/crm-connector/internal/domain"
	"github.com/voxlane/crm-connector/internal/platform/logger"

	"github.com/sirupsen/logrus"
)

// TokenSource yields a valid decrypted access token for a provider call.  The
// OAuth acquisition and refresh flow lives outside this service.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticTokenSource wraps an already-resolved credential.
type StaticTokenSource string

func (s StaticTokenSource) AccessToken(ctx context.Context) (string, error) {
	return string(s), nil
}

// RESTClient is the default Client implementation speaking the normalized
// JSON conventions our provider gateways expose.  Provider-specific wire
// quirks are absorbed by per-provider gateway services, keeping this client
// uniform.
type RESTClient struct {
	provider   domain.Provider
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewRESTClient(provider domain.Provider, baseURL string, tokens TokenSource, callTimeout time.Duration) *RESTClient {
	return &RESTClient{
		provider:   provider,
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: callTimeout},
	}
}

type listChangedResponse struct {
	Records []struct {
		ID        string                 `json:"id"`
		Etag      string                 `json:"etag"`
		UpdatedAt time.Time              `json:"updated_at"`
		Fields    map[string]interface{} `json:"fields"`
	} `json:"records"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

type createResponse struct {
	ID string `json:"id"`
}

type updateResponse struct {
	Etag string `json:"etag"`
}

func (c *RESTClient) ListChanged(ctx context.Context, objectType domain.ObjectType, since time.Time, cursor string, limit int) (Page, error) {

	query := url.Values{}
	if !since.IsZero() {
		query.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	query.Set("limit", strconv.Itoa(limit))

	endpoint := fmt.Sprintf("%s/objects/%s?%s", c.baseURL, objectType, query.Encode())

	body, _, err := c.doRequest(ctx, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return Page{}, err
	}

	var response listChangedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return Page{}, NewMalformedError(err)
	}

	page := Page{
		NextCursor: response.NextCursor,
		HasMore:    response.HasMore,
	}
	for _, record := range response.Records {
		page.Records = append(page.Records, RemoteRecord{
			RemoteID:  domain.RemoteID(record.ID),
			Etag:      record.Etag,
			UpdatedAt: record.UpdatedAt,
			Fields:    record.Fields,
		})
	}

	return page, nil
}

func (c *RESTClient) Create(ctx context.Context, objectType domain.ObjectType, fields map[string]interface{}) (domain.RemoteID, error) {

	payload, err := json.Marshal(map[string]interface{}{"fields": fields})
	if err != nil {
		return "", NewMalformedError(err)
	}

	endpoint := fmt.Sprintf("%s/objects/%s", c.baseURL, objectType)

	body, _, err := c.doRequest(ctx, http.MethodPost, endpoint, payload, "")
	if err != nil {
		return "", err
	}

	var response createResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", NewMalformedError(err)
	}

	return domain.RemoteID(response.ID), nil
}

func (c *RESTClient) Update(ctx context.Context, objectType domain.ObjectType, remoteID domain.RemoteID, fields map[string]interface{}, preconditionEtag string) (string, error) {

	payload, err := json.Marshal(map[string]interface{}{"fields": fields})
	if err != nil {
		return "", NewMalformedError(err)
	}

	endpoint := fmt.Sprintf("%s/objects/%s/%s", c.baseURL, objectType, remoteID)

	body, _, err := c.doRequest(ctx, http.MethodPatch, endpoint, payload, preconditionEtag)
	if err != nil {
		return "", err
	}

	var response updateResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", NewMalformedError(err)
	}

	return response.Etag, nil
}

func (c *RESTClient) doRequest(ctx context.Context, method, endpoint string, payload []byte, preconditionEtag string) ([]byte, int, error) {

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, NewMalformedError(err)
	}

	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, 0, NewAuthError(err)
	}

	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if preconditionEtag != "" {
		request.Header.Set("If-Match", preconditionEtag)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, NewTransientError(err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, response.StatusCode, NewTransientError(err)
	}

	if response.StatusCode >= 400 {
		class := ClassifyStatusCode(response.StatusCode)
		logger.Log.WithFields(logrus.Fields{
			"provider": c.provider,
			"status":   response.StatusCode,
			"class":    class.String()}).Debug("Provider call failed")
		return nil, response.StatusCode, &ClassifiedError{
			Class:      class,
			StatusCode: response.StatusCode,
			Err:        errors.New(http.StatusText(response.StatusCode)),
		}
	}

	return body, response.StatusCode, nil
}
