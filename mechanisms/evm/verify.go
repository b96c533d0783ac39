package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	relay "github.com/gasless-relayer/relay/go"
)

// RecoverSigner recovers the address that produced an r,s,v signature over digest.
// Both v in {0,1} and v in {27,28} are accepted.
func RecoverSigner(digest []byte, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	sig := common.CopyBytes(signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// RecoverForwardRequestSigner recovers the signer of req under domain.
func RecoverForwardRequestSigner(domain TypedDataDomain, req *relay.SignedRequest) (common.Address, error) {
	digest, err := HashForwardRequest(domain, req.UnsignedRequest)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverSigner(digest, req.Signature)
}

// VerifyForwardRequest checks that req was signed by req.From under domain,
// the way the forwarder does on-chain.
func VerifyForwardRequest(domain TypedDataDomain, req *relay.SignedRequest) error {
	signer, err := RecoverForwardRequestSigner(domain, req)
	if err != nil {
		return relay.NewRelayError(relay.ErrCodeInvalidSignature, "signature recovery failed", err)
	}
	if signer != req.From {
		return relay.NewRelayError(
			relay.ErrCodeInvalidSignature,
			fmt.Sprintf("signature recovers to %s, expected %s", signer.Hex(), req.From.Hex()),
			nil,
		)
	}
	return nil
}
