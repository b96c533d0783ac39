package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	relay "github.com/gasless-relayer/relay/go"
)

func testBody() relay.SingleRelayBody {
	return relay.SingleRelayBody{
		WireRequest: relay.WireRequest{
			ChainID:   31337,
			From:      "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			To:        "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
			Value:     0,
			Gas:       29544,
			Deadline:  1700001200,
			Data:      "0x3e6fec04",
			Nonce:     0,
			Signature: "0x" + strings.Repeat("ab", 65),
		},
		AccessKey: "local-dev",
	}
}

type staticAuth struct {
	headers AuthHeaders
	err     error
}

func (a staticAuth) GetAuthHeaders(context.Context) (AuthHeaders, error) {
	return a.headers, a.err
}

func TestNewHTTPRelayClient(t *testing.T) {
	client := NewHTTPRelayClient(nil)
	if client.url != DefaultRelayURL {
		t.Errorf("Expected default URL %s, got %s", DefaultRelayURL, client.url)
	}
	if client.Identifier() != DefaultRelayURL {
		t.Errorf("Expected default identifier, got %s", client.Identifier())
	}
	if client.relayPath != "/relay" || client.batchPath != "/batch-relay" || client.statusPath != "/status" {
		t.Errorf("Unexpected default paths %s %s %s", client.relayPath, client.batchPath, client.statusPath)
	}

	client = NewHTTPRelayClient(&RelayConfig{
		URL:        "https://relay.example.com/",
		Identifier: "custom",
		RelayPath:  "v2/relay",
	})
	if client.url != "https://relay.example.com" {
		t.Errorf("Expected trailing slash trimmed, got %s", client.url)
	}
	if client.Identifier() != "custom" {
		t.Errorf("Expected identifier custom, got %s", client.Identifier())
	}
	if client.relayPath != "/v2/relay" {
		t.Errorf("Expected /v2/relay, got %s", client.relayPath)
	}
}

func TestSubmit(t *testing.T) {
	var gotBody map[string]interface{}
	var gotRequestID, gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/relay" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Unexpected content type %q", ct)
		}
		gotRequestID = r.Header.Get(RequestIDHeader)
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set(RequestIDHeader, gotRequestID)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"chain_id":31337,"request_state":"pending"}`))
	}))
	defer server.Close()

	client := NewHTTPRelayClient(&RelayConfig{
		URL:          server.URL,
		AuthProvider: staticAuth{headers: AuthHeaders{Relay: map[string]string{"Authorization": "Bearer relay"}}},
	})

	resp, err := client.Submit(context.Background(), testBody())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"chain_id":31337,"request_state":"pending"}` {
		t.Errorf("Body must be returned verbatim, got %s", resp.Body)
	}
	if _, err := uuid.Parse(gotRequestID); err != nil {
		t.Errorf("Expected a uuid request id, got %q", gotRequestID)
	}
	if resp.RequestID != gotRequestID {
		t.Errorf("Expected request id %s, got %s", gotRequestID, resp.RequestID)
	}
	if gotAuth != "Bearer relay" {
		t.Errorf("Expected auth header, got %q", gotAuth)
	}
	if gotBody["access_key"] != "local-dev" {
		t.Errorf("Expected access_key in body, got %v", gotBody["access_key"])
	}
	if gotBody["chain_id"] != float64(31337) {
		t.Errorf("Expected numeric chain_id, got %v", gotBody["chain_id"])
	}
}

func TestSubmit_NonSuccessIsUnknownOutcome(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Bad data format"))
	}))
	defer server.Close()

	client := NewHTTPRelayClient(&RelayConfig{URL: server.URL})
	resp, err := client.Submit(context.Background(), testBody())
	if resp != nil {
		t.Errorf("Expected no response on failure")
	}
	if !errors.Is(err, relay.ErrTransmissionFailed) {
		t.Fatalf("Expected ErrTransmissionFailed, got %v", err)
	}

	var re *relay.RelayError
	if !errors.As(err, &re) {
		t.Fatal("Expected a RelayError")
	}
	if re.Details["status"] != http.StatusBadRequest {
		t.Errorf("Expected status detail 400, got %v", re.Details["status"])
	}
	if re.Details["body"] != "Bad data format" {
		t.Errorf("Expected body detail, got %v", re.Details["body"])
	}
}

func TestSubmit_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewHTTPRelayClient(&RelayConfig{URL: url})
	_, err := client.Submit(context.Background(), testBody())
	if !errors.Is(err, relay.ErrTransmissionFailed) {
		t.Fatalf("Expected ErrTransmissionFailed, got %v", err)
	}
}

func TestSubmit_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewHTTPRelayClient(&RelayConfig{URL: server.URL, Timeout: 20 * time.Millisecond})
	_, err := client.Submit(context.Background(), testBody())
	if !errors.Is(err, relay.ErrTransmissionFailed) {
		t.Fatalf("Expected ErrTransmissionFailed on timeout, got %v", err)
	}
}

func TestSubmit_AuthFailure(t *testing.T) {
	client := NewHTTPRelayClient(&RelayConfig{
		URL:          "http://127.0.0.1:1",
		AuthProvider: staticAuth{err: errors.New("token expired")},
	})
	_, err := client.Submit(context.Background(), testBody())
	if err == nil || errors.Is(err, relay.ErrTransmissionFailed) {
		t.Fatalf("Expected a local auth error before sending, got %v", err)
	}
}

func TestSubmitBatch(t *testing.T) {
	var gotBody relay.BatchRelayBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/batch-relay" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"request_ids":["a-0","a-1"]}`))
	}))
	defer server.Close()

	client := NewHTTPRelayClient(&RelayConfig{URL: server.URL})
	entry := testBody().WireRequest
	resp, err := client.SubmitBatch(context.Background(), relay.BatchRelayBody{
		Requests:       []relay.WireRequest{entry, entry},
		RefundReceiver: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if len(gotBody.Requests) != 2 || gotBody.RefundReceiver != "0x70997970C51812dc3A010C7d01b50e0d17dc79C8" {
		t.Errorf("Unexpected batch body %+v", gotBody)
	}

	_, err = client.SubmitBatch(context.Background(), relay.BatchRelayBody{})
	if !errors.Is(err, relay.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for an empty batch, got %v", err)
	}
}

func TestGetRequestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/status/known":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"chain_id":31337,"request_id":"known","request_state":"pending","created_at":"2024-01-01T00:00:00Z"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("Request not found"))
		}
	}))
	defer server.Close()

	client := NewHTTPRelayClient(&RelayConfig{URL: server.URL})

	status, err := client.GetRequestStatus(context.Background(), "known")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if status.RequestID != "known" || status.State != relay.RequestStatePending || status.ChainID != 31337 {
		t.Errorf("Unexpected status %+v", status)
	}

	_, err = client.GetRequestStatus(context.Background(), "missing")
	if !errors.Is(err, relay.ErrTransmissionFailed) {
		t.Errorf("Expected ErrTransmissionFailed for 404, got %v", err)
	}

	_, err = client.GetRequestStatus(context.Background(), "")
	if !errors.Is(err, relay.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest for empty id, got %v", err)
	}
}
