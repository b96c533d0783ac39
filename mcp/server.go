package mcp

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/log"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	relay "github.com/gasless-relayer/relay/go"
)

// ServerName and ServerVersion identify the tool server to MCP clients.
const (
	ServerName    = "gasless-relay"
	ServerVersion = "1.0.0"
)

// RelayTools holds the collaborators behind the relay tools.
type RelayTools struct {
	preparer  RequestPreparer
	submitter RequestSubmitter
	defaults  Defaults
	log       log.Logger
}

// NewRelayToolServer creates an MCP server exposing prepare_relay_request
// and submit_relay_request. submitter may be nil, in which case only the
// prepare tool is registered.
func NewRelayToolServer(preparer RequestPreparer, submitter RequestSubmitter, defaults Defaults) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)
	NewRelayTools(preparer, submitter, defaults).Register(server)
	return server
}

// NewRelayTools creates the tool handlers without a server.
func NewRelayTools(preparer RequestPreparer, submitter RequestSubmitter, defaults Defaults) *RelayTools {
	return &RelayTools{
		preparer:  preparer,
		submitter: submitter,
		defaults:  defaults,
		log:       log.Root().New("component", "mcp"),
	}
}

// Register adds the relay tools to server.
func (t *RelayTools) Register(server *mcpsdk.Server) {
	server.AddTool(&mcpsdk.Tool{
		Name:        ToolPrepareRelayRequest,
		Description: "Build and sign a gasless ERC-2771 forward request. Returns the relay wire body.",
		InputSchema: json.RawMessage(prepareInputSchema),
	}, t.handlePrepare)

	if t.submitter != nil {
		server.AddTool(&mcpsdk.Tool{
			Name:        ToolSubmitRelayRequest,
			Description: "Send a signed relay wire body to the relay service. A failure means the outcome is unknown.",
			InputSchema: json.RawMessage(submitInputSchema),
		}, t.handleSubmit)
	}
}

func (t *RelayTools) handlePrepare(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args PrepareArgs
	if err := decodeArguments(req.Params.Arguments, &args); err != nil {
		return errorResult(err), nil
	}
	params, err := ToPrepareParams(args, t.defaults)
	if err != nil {
		return errorResult(err), nil
	}

	signed, err := t.preparer.PrepareRequest(ctx, params)
	if err != nil {
		t.log.Warn("Tool preparation failed", "tool", ToolPrepareRelayRequest, "code", relay.ErrorCode(err), "err", err)
		return errorResult(err), nil
	}

	body, err := relay.ToWireFormat(signed)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(body)
}

func (t *RelayTools) handleSubmit(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var body relay.SingleRelayBody
	if err := decodeArguments(req.Params.Arguments, &body); err != nil {
		return errorResult(err), nil
	}
	if body.AccessKey == "" {
		body.AccessKey = t.defaults.AccessKey
	}

	resp, err := t.submitter.Submit(ctx, body)
	if err != nil {
		t.log.Warn("Tool submission failed", "tool", ToolSubmitRelayRequest, "code", relay.ErrorCode(err), "err", err)
		return errorResult(err), nil
	}

	return jsonResult(SubmitResult{
		StatusCode: resp.StatusCode,
		RequestID:  resp.RequestID,
		Body:       string(resp.Body),
	})
}
