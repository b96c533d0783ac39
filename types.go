package relay

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// UnsignedRequest is the canonical ForwardRequest before signing.
type UnsignedRequest struct {
	From     common.Address
	To       common.Address
	Value    *big.Int // wei
	Data     []byte
	Gas      *big.Int
	Deadline *big.Int // unix seconds
	Nonce    *big.Int
}

// Expired reports whether the request deadline is not strictly in the future at now.
func (r *UnsignedRequest) Expired(now time.Time) bool {
	if r.Deadline == nil {
		return true
	}
	return r.Deadline.Cmp(big.NewInt(now.Unix())) <= 0
}

// SignedRequest is an UnsignedRequest bound to a chain and carrying the
// sender's EIP-712 signature. It is produced once by the request builder;
// changing any field invalidates Signature.
type SignedRequest struct {
	UnsignedRequest
	ChainID   *big.Int
	Signature []byte
	// AccessKey is an out-of-band authorization token for the relay endpoint.
	// It is not part of the signed message.
	AccessKey string
}

// Copy returns a deep copy that shares no memory with r.
func (r *SignedRequest) Copy() *SignedRequest {
	return &SignedRequest{
		UnsignedRequest: UnsignedRequest{
			From:     r.From,
			To:       r.To,
			Value:    copyBig(r.Value),
			Data:     common.CopyBytes(r.Data),
			Gas:      copyBig(r.Gas),
			Deadline: copyBig(r.Deadline),
			Nonce:    copyBig(r.Nonce),
		},
		ChainID:   copyBig(r.ChainID),
		Signature: common.CopyBytes(r.Signature),
		AccessKey: r.AccessKey,
	}
}

// BatchSubmission groups independently signed requests under one refund
// receiver. Entries share no nonce or deadline.
type BatchSubmission struct {
	Requests       []SignedRequest
	RefundReceiver common.Address
}

// RelayResponse is the raw relay endpoint reply. Body is passed through
// verbatim.
type RelayResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       []byte `json:"-"`
	RequestID  string `json:"requestId,omitempty"`
}

// RequestState is the relay-side lifecycle state of a submitted request.
type RequestState string

const (
	RequestStatePending RequestState = "pending"
	RequestStateSuccess RequestState = "success"
	RequestStateFailed  RequestState = "failed"
	RequestStateTimeout RequestState = "timeout"
)

// RequestStatus is the relay's view of a submitted request.
type RequestStatus struct {
	ChainID         uint64       `json:"chain_id"`
	RequestID       string       `json:"request_id"`
	State           RequestState `json:"request_state"`
	CreatedAt       time.Time    `json:"created_at"`
	TransactionHash string       `json:"transaction_hash,omitempty"`
	BlockNumber     uint64       `json:"block_number,omitempty"`
	MinedAt         *time.Time   `json:"mined_at,omitempty"`
	GasUsed         uint64       `json:"gas_used,omitempty"`
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
