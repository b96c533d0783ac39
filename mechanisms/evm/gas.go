package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	relay "github.com/gasless-relayer/relay/go"
)

// CallDataEncoding is the convention a forwarder uses to pass the original
// sender to the target contract.
type CallDataEncoding interface {
	// Encode returns the call data the forwarder sends to the target.
	Encode(data []byte, from common.Address) []byte
	// Name identifies the convention in logs.
	Name() string
}

// AppendSenderEncoding is the ERC-2771 convention: the 20-byte sender is
// appended to the original call data.
type AppendSenderEncoding struct{}

func (AppendSenderEncoding) Encode(data []byte, from common.Address) []byte {
	out := make([]byte, 0, len(data)+AddressLength)
	out = append(out, data...)
	return append(out, from.Bytes()...)
}

func (AppendSenderEncoding) Name() string { return "erc2771-append-sender" }

// PassthroughEncoding forwards the call data unchanged, for forwarders that
// convey the sender some other way.
type PassthroughEncoding struct{}

func (PassthroughEncoding) Encode(data []byte, _ common.Address) []byte {
	return common.CopyBytes(data)
}

func (PassthroughEncoding) Name() string { return "passthrough" }

// ForwardedCall describes a call as it will be executed through a forwarder.
type ForwardedCall struct {
	From      common.Address
	To        common.Address
	Value     *big.Int
	Data      []byte
	Forwarder common.Address
}

// EstimateForwardedGas simulates call the way the forwarder performs it: the
// forwarder is the caller and the call data carries the sender per encoding.
// The node's estimate is returned unmodified; there is no retry.
func EstimateForwardedGas(ctx context.Context, estimator GasEstimator, encoding CallDataEncoding, call ForwardedCall) (*big.Int, error) {
	if estimator == nil {
		return nil, relay.NewRelayError(relay.ErrCodeGasEstimationFailed, "no gas estimator configured", nil)
	}
	if encoding == nil {
		encoding = AppendSenderEncoding{}
	}

	gas, err := estimator.EstimateGas(ctx, CallRequest{
		From:  call.Forwarder.Hex(),
		To:    call.To.Hex(),
		Data:  encoding.Encode(call.Data, call.From),
		Value: bigOrZero(call.Value),
	})
	if err != nil {
		return nil, relay.NewRelayError(relay.ErrCodeGasEstimationFailed, "gas estimation failed", err).
			WithDetails(map[string]interface{}{
				"to":        call.To.Hex(),
				"forwarder": call.Forwarder.Hex(),
				"encoding":  encoding.Name(),
			})
	}
	return new(big.Int).SetUint64(gas), nil
}
