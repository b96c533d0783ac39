package mcp

import (
	"context"

	relay "github.com/gasless-relayer/relay/go"
	"github.com/gasless-relayer/relay/go/mechanisms/evm"
)

// RequestPreparer builds signed forward requests.
// Implemented by *evm.RequestBuilder.
type RequestPreparer interface {
	PrepareRequest(ctx context.Context, p evm.PrepareParams) (*relay.SignedRequest, error)
}

// RequestSubmitter transmits wire requests to a relay.
// Implemented by *http.HTTPRelayClient.
type RequestSubmitter interface {
	Submit(ctx context.Context, body relay.SingleRelayBody) (*relay.RelayResponse, error)
}
