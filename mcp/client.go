package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	relay "github.com/gasless-relayer/relay/go"
)

// RelayToolClient calls the relay tools over a connected MCP session.
type RelayToolClient struct {
	session *mcpsdk.ClientSession
}

// NewRelayToolClient wraps a connected session.
//
// Example:
//
//	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{
//	    Name: "my-agent", Version: "1.0.0",
//	}, nil)
//	session, err := mcpClient.Connect(ctx, transport, nil)
//	if err != nil { ... }
//
//	tools := mcp.NewRelayToolClient(session)
//	body, err := tools.Prepare(ctx, mcp.PrepareArgs{To: "0x..."})
func NewRelayToolClient(session *mcpsdk.ClientSession) *RelayToolClient {
	return &RelayToolClient{session: session}
}

// Close closes the underlying session.
func (c *RelayToolClient) Close() error {
	return c.session.Close()
}

// Prepare calls prepare_relay_request.
func (c *RelayToolClient) Prepare(ctx context.Context, args PrepareArgs) (relay.SingleRelayBody, error) {
	var body relay.SingleRelayBody
	if err := c.call(ctx, ToolPrepareRelayRequest, args, &body); err != nil {
		return relay.SingleRelayBody{}, err
	}
	return body, nil
}

// Submit calls submit_relay_request.
func (c *RelayToolClient) Submit(ctx context.Context, body relay.SingleRelayBody) (SubmitResult, error) {
	var result SubmitResult
	if err := c.call(ctx, ToolSubmitRelayRequest, body, &result); err != nil {
		return SubmitResult{}, err
	}
	return result, nil
}

func (c *RelayToolClient) call(ctx context.Context, name string, args interface{}, out interface{}) error {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return fmt.Errorf("%s call failed: %w", name, err)
	}
	text := ResultText(result)
	if result.IsError {
		return fmt.Errorf("%s failed: %s", name, text)
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", name, err)
	}
	return nil
}
