package relay

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MaxSafeInteger is the largest integer a JSON number can carry without loss
// in IEEE-754 double precision consumers (2^53 - 1). Wider values are
// rejected by ToWireFormat instead of being silently rounded.
const MaxSafeInteger = 1<<53 - 1

var maxSafeInteger = big.NewInt(MaxSafeInteger)

// WireRequest is the JSON form of a signed request inside a batch.
type WireRequest struct {
	ChainID   uint64 `json:"chain_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     uint64 `json:"value"`
	Gas       uint64 `json:"gas"`
	Deadline  uint64 `json:"deadline"`
	Data      string `json:"data"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

// SingleRelayBody is the body posted for a single relay submission.
type SingleRelayBody struct {
	WireRequest
	AccessKey string `json:"access_key"`
}

// BatchRelayBody is the body posted for a batch relay submission.
type BatchRelayBody struct {
	Requests       []WireRequest `json:"requests"`
	RefundReceiver string        `json:"refund_receiver"`
}

// ToWireFormat narrows the wide integer fields of req into JSON numbers.
// Any value above MaxSafeInteger fails with ErrUnsafeInteger.
func ToWireFormat(req *SignedRequest) (SingleRelayBody, error) {
	if req == nil {
		return SingleRelayBody{}, NewRelayError(ErrCodeInvalidRequest, "nil request", nil)
	}

	wire := WireRequest{
		From:      req.From.Hex(),
		To:        req.To.Hex(),
		Data:      hexutil.Encode(nonNilBytes(req.Data)),
		Signature: hexutil.Encode(nonNilBytes(req.Signature)),
	}

	fields := []struct {
		name string
		src  *big.Int
		dst  *uint64
	}{
		{"chain_id", req.ChainID, &wire.ChainID},
		{"value", req.Value, &wire.Value},
		{"gas", req.Gas, &wire.Gas},
		{"deadline", req.Deadline, &wire.Deadline},
		{"nonce", req.Nonce, &wire.Nonce},
	}
	for _, f := range fields {
		n, err := narrow(f.name, f.src)
		if err != nil {
			return SingleRelayBody{}, err
		}
		*f.dst = n
	}

	return SingleRelayBody{WireRequest: wire, AccessKey: req.AccessKey}, nil
}

// ToBatchWireFormat converts every entry of batch. The access keys of the
// entries are not carried by the batch body.
func ToBatchWireFormat(batch *BatchSubmission) (BatchRelayBody, error) {
	if batch == nil {
		return BatchRelayBody{}, NewRelayError(ErrCodeInvalidRequest, "nil batch", nil)
	}

	body := BatchRelayBody{
		Requests:       make([]WireRequest, 0, len(batch.Requests)),
		RefundReceiver: batch.RefundReceiver.Hex(),
	}
	for i := range batch.Requests {
		single, err := ToWireFormat(&batch.Requests[i])
		if err != nil {
			return BatchRelayBody{}, fmt.Errorf("batch entry %d: %w", i, err)
		}
		body.Requests = append(body.Requests, single.WireRequest)
	}
	return body, nil
}

// FromWireFormat widens a wire request back into a SignedRequest.
func FromWireFormat(body SingleRelayBody) (*SignedRequest, error) {
	req, err := body.WireRequest.toSigned()
	if err != nil {
		return nil, err
	}
	req.AccessKey = body.AccessKey
	return req, nil
}

func (w WireRequest) toSigned() (*SignedRequest, error) {
	if !common.IsHexAddress(w.From) {
		return nil, NewRelayError(ErrCodeInvalidRequest, fmt.Sprintf("invalid from address: %s", w.From), nil)
	}
	if !common.IsHexAddress(w.To) {
		return nil, NewRelayError(ErrCodeInvalidRequest, fmt.Sprintf("invalid to address: %s", w.To), nil)
	}
	data, err := hexutil.Decode(w.Data)
	if err != nil {
		return nil, NewRelayError(ErrCodeInvalidRequest, "invalid data", err)
	}
	sig, err := hexutil.Decode(w.Signature)
	if err != nil {
		return nil, NewRelayError(ErrCodeInvalidRequest, "invalid signature", err)
	}

	fields := []struct {
		name string
		v    uint64
	}{
		{"chain_id", w.ChainID},
		{"value", w.Value},
		{"gas", w.Gas},
		{"deadline", w.Deadline},
		{"nonce", w.Nonce},
	}
	for _, f := range fields {
		if f.v > MaxSafeInteger {
			return nil, unsafeInteger(f.name, new(big.Int).SetUint64(f.v))
		}
	}

	return &SignedRequest{
		UnsignedRequest: UnsignedRequest{
			From:     common.HexToAddress(w.From),
			To:       common.HexToAddress(w.To),
			Value:    new(big.Int).SetUint64(w.Value),
			Data:     data,
			Gas:      new(big.Int).SetUint64(w.Gas),
			Deadline: new(big.Int).SetUint64(w.Deadline),
			Nonce:    new(big.Int).SetUint64(w.Nonce),
		},
		ChainID:   new(big.Int).SetUint64(w.ChainID),
		Signature: sig,
	}, nil
}

// FromBatchWireFormat widens every entry of a batch body.
func FromBatchWireFormat(body BatchRelayBody) (*BatchSubmission, error) {
	if !common.IsHexAddress(body.RefundReceiver) {
		return nil, NewRelayError(ErrCodeInvalidRequest, fmt.Sprintf("invalid refund receiver: %s", body.RefundReceiver), nil)
	}
	batch := &BatchSubmission{
		Requests:       make([]SignedRequest, 0, len(body.Requests)),
		RefundReceiver: common.HexToAddress(body.RefundReceiver),
	}
	for i, w := range body.Requests {
		req, err := w.toSigned()
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		batch.Requests = append(batch.Requests, *req)
	}
	return batch, nil
}

func narrow(field string, v *big.Int) (uint64, error) {
	if v == nil {
		return 0, NewRelayError(ErrCodeInvalidRequest, fmt.Sprintf("missing %s", field), nil)
	}
	if v.Sign() < 0 || v.Cmp(maxSafeInteger) > 0 {
		return 0, unsafeInteger(field, v)
	}
	return v.Uint64(), nil
}

func unsafeInteger(field string, v *big.Int) *RelayError {
	return NewRelayError(
		ErrCodeUnsafeInteger,
		fmt.Sprintf("%s %s outside wire range [0, %d]", field, v.String(), MaxSafeInteger),
		nil,
	).WithDetails(map[string]interface{}{"field": field, "value": v.String()})
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
