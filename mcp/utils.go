package mcp

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gasless-relayer/relay/go/mechanisms/evm"
)

// ToPrepareParams resolves args against defaults.
func ToPrepareParams(args PrepareArgs, defaults Defaults) (evm.PrepareParams, error) {
	if !common.IsHexAddress(args.To) {
		return evm.PrepareParams{}, fmt.Errorf("invalid target address: %q", args.To)
	}

	p := evm.PrepareParams{
		To:            common.HexToAddress(args.To),
		Value:         new(big.Int),
		Forwarder:     defaults.Forwarder,
		ForwarderName: defaults.ForwarderName,
		ChainID:       defaults.ChainID,
		AccessKey:     defaults.AccessKey,
	}

	if args.Value != "" {
		v, ok := new(big.Int).SetString(args.Value, 10)
		if !ok {
			return evm.PrepareParams{}, fmt.Errorf("invalid value: %q", args.Value)
		}
		p.Value = v
	}
	data, err := evm.HexToBytes(args.Data)
	if err != nil {
		return evm.PrepareParams{}, fmt.Errorf("invalid data: %w", err)
	}
	p.Data = data

	if args.Forwarder != "" {
		if !common.IsHexAddress(args.Forwarder) {
			return evm.PrepareParams{}, fmt.Errorf("invalid forwarder address: %q", args.Forwarder)
		}
		p.Forwarder = common.HexToAddress(args.Forwarder)
	}
	if args.ForwarderName != "" {
		p.ForwarderName = args.ForwarderName
	}
	if args.ChainID != 0 {
		p.ChainID = new(big.Int).SetUint64(args.ChainID)
	}
	if args.AccessKey != "" {
		p.AccessKey = args.AccessKey
	}
	if args.Nonce != "" {
		n, ok := new(big.Int).SetString(args.Nonce, 10)
		if !ok {
			return evm.PrepareParams{}, fmt.Errorf("invalid nonce: %q", args.Nonce)
		}
		p.Nonce = n
	}
	return p, nil
}

// decodeArguments unmarshals raw tool arguments into v.
func decodeArguments(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return nil
}

// jsonResult returns v as structured content and as its JSON text.
func jsonResult(v interface{}) (*mcpsdk.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	var structured map[string]interface{}
	if err := json.Unmarshal(b, &structured); err != nil {
		return nil, fmt.Errorf("failed to unmarshal structured content: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
		StructuredContent: structured,
	}, nil
}

// errorResult reports a tool failure to the model rather than the protocol.
func errorResult(err error) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}
}

// ResultText returns the text of the first text content item.
func ResultText(result *mcpsdk.CallToolResult) string {
	if result == nil {
		return ""
	}
	for _, item := range result.Content {
		if text, ok := item.(*mcpsdk.TextContent); ok {
			return text.Text
		}
	}
	return ""
}
