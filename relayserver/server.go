package relayserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	relay "github.com/gasless-relayer/relay/go"
	"github.com/gasless-relayer/relay/go/mechanisms/evm"
	"github.com/gasless-relayer/relay/go/metrics"
)

// Banner is returned by GET /
const Banner = "Gasless Relayer."

// DefaultDedupTTL is how long an accepted request is remembered
const DefaultDedupTTL = 30 * time.Minute

// Config configures the reference relay endpoint.
type Config struct {
	// ChainID the endpoint accepts requests for
	ChainID *big.Int

	// Forwarder and ForwarderName define the static signing domain
	Forwarder     common.Address
	ForwarderName string

	// AccessKeys accepted on POST /relay. Empty accepts any non-empty key.
	AccessKeys []string

	// Resolver overrides the static domain (optional)
	Resolver evm.DomainResolver

	// Store deduplicates resubmitted requests (optional, in-memory by default)
	Store    SubmissionStore
	DedupTTL time.Duration

	Now     func() time.Time
	Metrics metrics.Metricer
	Logger  log.Logger
}

// Server is an HTTP endpoint that accepts signed forward requests, checks
// them the way a forwarder would, and records them as pending. It does not
// broadcast transactions.
type Server struct {
	cfg      Config
	resolver evm.DomainResolver
	store    SubmissionStore
	keys     map[string]struct{}
	engine   *gin.Engine
	metrics  metrics.Metricer
	log      log.Logger

	mu       sync.RWMutex
	statuses map[string]relay.RequestStatus
}

// New creates the endpoint and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 || !cfg.ChainID.IsUint64() {
		return nil, fmt.Errorf("invalid chain id: %v", cfg.ChainID)
	}
	if cfg.Resolver == nil && cfg.Forwarder == (common.Address{}) {
		return nil, fmt.Errorf("forwarder address is required")
	}

	s := &Server{
		cfg:      cfg,
		resolver: cfg.Resolver,
		store:    cfg.Store,
		keys:     make(map[string]struct{}, len(cfg.AccessKeys)),
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		statuses: make(map[string]relay.RequestStatus),
	}
	if s.resolver == nil {
		s.resolver = evm.StaticDomainResolver{}
	}
	if s.cfg.Now == nil {
		s.cfg.Now = time.Now
	}
	if s.store == nil {
		ttl := cfg.DedupTTL
		if ttl <= 0 {
			ttl = DefaultDedupTTL
		}
		store := NewInMemoryStore(ttl)
		store.now = s.cfg.Now
		s.store = store
	}
	if s.metrics == nil {
		s.metrics = metrics.NoopMetrics
	}
	if s.log == nil {
		s.log = log.Root()
	}
	for _, k := range cfg.AccessKeys {
		s.keys[k] = struct{}{}
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/", func(c *gin.Context) { c.String(http.StatusOK, Banner) })
	engine.POST("/relay", s.handleRelay)
	engine.POST("/batch-relay", s.handleBatchRelay)
	engine.GET("/status/:id", s.handleStatus)
	s.engine = engine

	return s, nil
}

// Handler returns the HTTP handler serving the endpoint.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Status returns the recorded status of requestID.
func (s *Server) Status(requestID string) (relay.RequestStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[requestID]
	return st, ok
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Relay endpoint listening", "addr", addr, "chain_id", s.cfg.ChainID, "forwarder", s.cfg.Forwarder)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleRelay(c *gin.Context) {
	body, ok := s.readBody(c, "relay", SingleRelaySchema)
	if !ok {
		return
	}

	var wire relay.SingleRelayBody
	if err := json.Unmarshal(body, &wire); err != nil {
		s.reject(c, "relay", http.StatusBadRequest, "Bad data format")
		return
	}
	if !s.accessKeyAllowed(wire.AccessKey) {
		s.reject(c, "relay", http.StatusUnauthorized, "invalid access key")
		return
	}

	req, err := relay.FromWireFormat(wire)
	if err != nil {
		s.reject(c, "relay", http.StatusBadRequest, err.Error())
		return
	}

	st, duplicate, err := s.accept(c.Request.Context(), req, requestID(c))
	if err != nil {
		s.reject(c, "relay", statusFor(err), err.Error())
		return
	}
	if duplicate {
		s.log.Info("Resubmitted relay request", "request_id", st.RequestID, "from", req.From, "nonce", req.Nonce)
	} else {
		s.log.Info("Accepted relay request", "request_id", st.RequestID, "from", req.From, "to", req.To, "nonce", req.Nonce)
	}

	c.Header("X-Request-Id", st.RequestID)
	s.metrics.RecordRelayed("relay", http.StatusOK)
	c.JSON(http.StatusOK, st)
}

// accept checks req and records it under id. A request that was already
// accepted returns its original status with duplicate set.
func (s *Server) accept(ctx context.Context, req *relay.SignedRequest, id string) (relay.RequestStatus, bool, error) {
	key := SubmissionKey(req)
	for {
		state, cached, done := s.store.CheckAndMark(key)
		switch state {
		case SubmissionAccepted:
			return *cached, true, nil
		case SubmissionInFlight:
			result, err := s.store.WaitForResult(ctx, key, done)
			if err != nil {
				return relay.RequestStatus{}, false, err
			}
			if result != nil {
				return *result, true, nil
			}
			// The other check failed; run our own.
			continue
		}

		if err := s.check(ctx, req); err != nil {
			s.store.Fail(key, done)
			return relay.RequestStatus{}, false, err
		}
		st := s.record(id, req)
		s.store.Complete(key, &st, done)
		return st, false, nil
	}
}

type batchResponse struct {
	RequestIDs     []string `json:"request_ids"`
	RefundReceiver string   `json:"refund_receiver"`
}

func (s *Server) handleBatchRelay(c *gin.Context) {
	body, ok := s.readBody(c, "batch-relay", BatchRelaySchema)
	if !ok {
		return
	}

	var wire relay.BatchRelayBody
	if err := json.Unmarshal(body, &wire); err != nil {
		s.reject(c, "batch-relay", http.StatusBadRequest, "Bad data format")
		return
	}
	batch, err := relay.FromBatchWireFormat(wire)
	if err != nil {
		s.reject(c, "batch-relay", http.StatusBadRequest, err.Error())
		return
	}

	// The whole batch is rejected if any entry fails.
	for i := range batch.Requests {
		if err := s.check(c.Request.Context(), &batch.Requests[i]); err != nil {
			s.reject(c, "batch-relay", statusFor(err), fmt.Sprintf("request %d: %s", i, err))
			return
		}
	}

	batchID := requestID(c)
	resp := batchResponse{
		RequestIDs:     make([]string, len(batch.Requests)),
		RefundReceiver: batch.RefundReceiver.Hex(),
	}
	for i := range batch.Requests {
		id := fmt.Sprintf("%s-%d", batchID, i)
		s.record(id, &batch.Requests[i])
		resp.RequestIDs[i] = id
	}
	s.log.Info("Accepted relay batch", "request_id", batchID, "entries", len(batch.Requests), "refund_receiver", batch.RefundReceiver)

	c.Header("X-Request-Id", batchID)
	s.metrics.RecordRelayed("batch-relay", http.StatusOK)
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStatus(c *gin.Context) {
	st, ok := s.Status(c.Param("id"))
	if !ok {
		s.reject(c, "status", http.StatusNotFound, "Request not found")
		return
	}
	s.metrics.RecordRelayed("status", http.StatusOK)
	c.JSON(http.StatusOK, st)
}

// ============================================================================
// Checks
// ============================================================================

// check applies the forwarder's acceptance rules: chain, deadline, signature.
func (s *Server) check(ctx context.Context, req *relay.SignedRequest) error {
	if req.ChainID.Cmp(s.cfg.ChainID) != 0 {
		return relay.NewRelayError(relay.ErrCodeInvalidRequest, fmt.Sprintf("unsupported chain id %s", req.ChainID), nil)
	}
	if req.Expired(s.cfg.Now()) {
		return relay.NewRelayError(relay.ErrCodeDeadlineExpired, fmt.Sprintf("deadline %s has passed", req.Deadline), nil)
	}

	domain, err := s.resolver.ResolveDomain(ctx, s.cfg.Forwarder.Hex(), s.cfg.ForwarderName, s.cfg.ChainID)
	if err != nil {
		return err
	}
	return evm.VerifyForwardRequest(domain, req)
}

func (s *Server) accessKeyAllowed(key string) bool {
	if key == "" {
		return false
	}
	if len(s.keys) == 0 {
		return true
	}
	_, ok := s.keys[key]
	return ok
}

func (s *Server) record(id string, req *relay.SignedRequest) relay.RequestStatus {
	st := relay.RequestStatus{
		ChainID:   req.ChainID.Uint64(),
		RequestID: id,
		State:     relay.RequestStatePending,
		CreatedAt: s.cfg.Now().UTC(),
	}
	s.mu.Lock()
	s.statuses[id] = st
	s.mu.Unlock()
	return st
}

func (s *Server) readBody(c *gin.Context, endpoint string, schema []byte) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.reject(c, endpoint, http.StatusBadRequest, "Bad data format")
		return nil, false
	}
	if result := ValidateBody(schema, body); !result.Valid {
		s.reject(c, endpoint, http.StatusBadRequest, "Bad data format: "+strings.Join(result.Errors, "; "))
		return nil, false
	}
	return body, true
}

func (s *Server) reject(c *gin.Context, endpoint string, status int, msg string) {
	s.log.Debug("Rejected relay request", "endpoint", endpoint, "status", status, "reason", msg)
	s.metrics.RecordRelayed(endpoint, status)
	c.String(status, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrDomainResolutionFailed), errors.Is(err, relay.ErrUnsupportedDomainExtension):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func requestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-Id"); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}
	return uuid.NewString()
}
