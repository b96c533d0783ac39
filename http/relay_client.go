package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	relay "github.com/gasless-relayer/relay/go"
	"github.com/gasless-relayer/relay/go/metrics"
)

// ============================================================================
// HTTP Relay Client
// ============================================================================

// HTTPRelayClient transmits signed requests to a relay service over HTTP.
//
// The client never retries. A transport failure or non-2xx answer is
// reported as relay.ErrTransmissionFailed: the request may or may not have
// been accepted, so callers must not assume it was dropped.
type HTTPRelayClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
	relayPath    string
	batchPath    string
	statusPath   string
	metrics      metrics.Metricer
	log          log.Logger
}

// AuthProvider generates authentication headers for relay requests
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers for relay endpoints
type AuthHeaders struct {
	Relay  map[string]string
	Batch  map[string]string
	Status map[string]string
}

// RelayConfig configures the HTTP relay client
type RelayConfig struct {
	// URL is the base URL of the relay service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, no timeout beyond the caller's context by default)
	Timeout time.Duration

	// Identifier for this relay (optional)
	Identifier string

	// Endpoint paths (optional)
	RelayPath  string
	BatchPath  string
	StatusPath string

	// Metrics sink (optional)
	Metrics metrics.Metricer

	// Logger (optional, defaults to the root logger)
	Logger log.Logger
}

// DefaultRelayURL is the relay a local development server listens on
const DefaultRelayURL = "http://127.0.0.1:8010"

// Default endpoint paths
const (
	DefaultRelayPath  = "/relay"
	DefaultBatchPath  = "/batch-relay"
	DefaultStatusPath = "/status"
)

// RequestIDHeader carries the client generated request id
const RequestIDHeader = "X-Request-Id"

// NewHTTPRelayClient creates a new HTTP relay client
func NewHTTPRelayClient(config *RelayConfig) *HTTPRelayClient {
	if config == nil {
		config = &RelayConfig{}
	}

	baseURL := strings.TrimRight(config.URL, "/")
	if baseURL == "" {
		baseURL = DefaultRelayURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = baseURL
	}

	m := config.Metrics
	if m == nil {
		m = metrics.NoopMetrics
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Root()
	}

	return &HTTPRelayClient{
		url:          baseURL,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
		relayPath:    orDefault(config.RelayPath, DefaultRelayPath),
		batchPath:    orDefault(config.BatchPath, DefaultBatchPath),
		statusPath:   orDefault(config.StatusPath, DefaultStatusPath),
		metrics:      m,
		log:          logger.With("relay", identifier),
	}
}

// Identifier returns the relay identifier
func (c *HTTPRelayClient) Identifier() string {
	return c.identifier
}

// ============================================================================
// Transmission
// ============================================================================

// Submit posts one signed request to the relay endpoint.
//
// The relay's response body is returned verbatim.
func (c *HTTPRelayClient) Submit(ctx context.Context, body relay.SingleRelayBody) (*relay.RelayResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, relay.NewRelayError(relay.ErrCodeInvalidRequest, "failed to marshal relay request", err)
	}
	return c.post(ctx, metrics.KindSingle, c.relayPath, payload, func(h AuthHeaders) map[string]string { return h.Relay })
}

// SubmitBatch posts several signed requests in one call.
//
// The relay answers for the batch as a whole. A failure does not tell which
// entries, if any, were executed; check each request's nonce on-chain before
// preparing replacements.
func (c *HTTPRelayClient) SubmitBatch(ctx context.Context, body relay.BatchRelayBody) (*relay.RelayResponse, error) {
	if len(body.Requests) == 0 {
		return nil, relay.NewRelayError(relay.ErrCodeInvalidRequest, "batch is empty", nil)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, relay.NewRelayError(relay.ErrCodeInvalidRequest, "failed to marshal batch request", err)
	}
	return c.post(ctx, metrics.KindBatch, c.batchPath, payload, func(h AuthHeaders) map[string]string { return h.Batch })
}

// GetRequestStatus fetches the status the relay records for requestID
func (c *HTTPRelayClient) GetRequestStatus(ctx context.Context, requestID string) (*relay.RequestStatus, error) {
	if requestID == "" {
		return nil, relay.NewRelayError(relay.ErrCodeInvalidRequest, "request id is required", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+c.statusPath+"/"+url.PathEscape(requestID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if err := c.applyAuth(ctx, req, func(h AuthHeaders) map[string]string { return h.Status }); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, relay.NewRelayError(relay.ErrCodeTransmissionFailed, "status request failed", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, relay.NewRelayError(relay.ErrCodeTransmissionFailed, "failed to read status response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, relay.NewRelayError(
			relay.ErrCodeTransmissionFailed,
			fmt.Sprintf("relay status failed (%d): %s", resp.StatusCode, string(responseBody)),
			nil,
		).WithDetails(map[string]interface{}{"status": resp.StatusCode})
	}

	var status relay.RequestStatus
	if err := json.Unmarshal(responseBody, &status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

func (c *HTTPRelayClient) post(
	ctx context.Context,
	kind string,
	path string,
	payload []byte,
	headers func(AuthHeaders) map[string]string,
) (*relay.RelayResponse, error) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := c.log.New("kind", kind, "request_id", requestID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if err := c.applyAuth(ctx, req, headers); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordSubmission(kind, metrics.OutcomeUnknown, time.Since(start))
		logger.Warn("Relay request failed, outcome unknown", "err", err)
		return nil, relay.NewRelayError(relay.ErrCodeTransmissionFailed, "relay request failed", err).
			WithDetails(map[string]interface{}{"request_id": requestID})
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordSubmission(kind, metrics.OutcomeUnknown, time.Since(start))
		logger.Warn("Failed to read relay response, outcome unknown", "status", resp.StatusCode, "err", err)
		return nil, relay.NewRelayError(relay.ErrCodeTransmissionFailed, "failed to read relay response", err).
			WithDetails(map[string]interface{}{"request_id": requestID, "status": resp.StatusCode})
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.RecordSubmission(kind, metrics.OutcomeUnknown, time.Since(start))
		logger.Warn("Relay rejected request", "status", resp.StatusCode, "body", string(responseBody))
		return nil, relay.NewRelayError(
			relay.ErrCodeTransmissionFailed,
			fmt.Sprintf("relay %s failed (%d): %s", kind, resp.StatusCode, string(responseBody)),
			nil,
		).WithDetails(map[string]interface{}{"request_id": requestID, "status": resp.StatusCode, "body": string(responseBody)})
	}

	if echoed := resp.Header.Get(RequestIDHeader); echoed != "" {
		requestID = echoed
	}

	c.metrics.RecordSubmission(kind, metrics.OutcomeDelivered, time.Since(start))
	logger.Info("Relay accepted request", "status", resp.StatusCode, "elapsed", time.Since(start))

	return &relay.RelayResponse{
		StatusCode: resp.StatusCode,
		Body:       responseBody,
		RequestID:  requestID,
	}, nil
}

func (c *HTTPRelayClient) applyAuth(ctx context.Context, req *http.Request, headers func(AuthHeaders) map[string]string) error {
	if c.authProvider == nil {
		return nil
	}
	authHeaders, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range headers(authHeaders) {
		req.Header.Set(k, v)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	if !strings.HasPrefix(v, "/") {
		return "/" + v
	}
	return v
}
