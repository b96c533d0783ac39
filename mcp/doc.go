// Package mcp exposes gasless relay request preparation and submission as
// MCP (Model Context Protocol) tools.
//
// # Server Usage
//
//	builder := evm.NewRequestBuilder(signer, chain)
//	client := http.NewHTTPRelayClient(&http.RelayConfig{URL: relayURL})
//
//	server := mcp.NewRelayToolServer(builder, client, mcp.Defaults{
//	    Forwarder:     forwarder,
//	    ForwarderName: "ERC2771Forwarder",
//	    ChainID:       big.NewInt(31337),
//	    AccessKey:     accessKey,
//	})
//	handler := mcpsdk.NewSSEHandler(func(*stdhttp.Request) *mcpsdk.Server { return server }, nil)
//
// # Client Usage
//
//	session, _ := mcpsdk.NewClient(impl, nil).Connect(ctx, transport, nil)
//	tools := mcp.NewRelayToolClient(session)
//	body, err := tools.Prepare(ctx, mcp.PrepareArgs{To: target, Data: "0x3e6fec04"})
//	result, err := tools.Submit(ctx, body)
//
// Tool failures are returned as error results (IsError) carrying the relay
// error message, not as protocol errors.
package mcp
