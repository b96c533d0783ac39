package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	relayevm "github.com/gasless-relayer/relay/go/mechanisms/evm"
)

const hardhatKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestNewSignerFromPrivateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"with prefix", hardhatKey, false},
		{"without prefix", hardhatKey[2:], false},
		{"padded", "  " + hardhatKey + "\n", false},
		{"too short", "0x1234", true},
		{"not hex", "0xzz0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewSignerFromPrivateKey(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := signer.Address(); got != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
				t.Fatalf("Address() = %s", got)
			}
		})
	}
}

func TestSignTypedData(t *testing.T) {
	signer, err := NewSignerFromPrivateKey(hardhatKey)
	if err != nil {
		t.Fatal(err)
	}

	domain := relayevm.ResolveStaticDomain("ERC2771Forwarder", big.NewInt(31337), "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	message := map[string]interface{}{
		"owner":    signer.Address(),
		"spender":  "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		"value":    big.NewInt(1000),
		"nonce":    big.NewInt(0),
		"deadline": big.NewInt(1_700_001_200),
	}
	permit, _ := relayevm.StructFields("Permit")
	types := map[string][]relayevm.TypedDataField{"Permit": permit}

	sig, err := signer.SignTypedData(context.Background(), domain, types, "Permit", message)
	if err != nil {
		t.Fatalf("SignTypedData: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("v = %d, want 27 or 28", sig[64])
	}

	digest, err := relayevm.HashTypedData(domain, types, "Permit", message)
	if err != nil {
		t.Fatal(err)
	}
	recovered, err := relayevm.RecoverSigner(digest, sig)
	if err != nil {
		t.Fatalf("RecoverSigner: %v", err)
	}
	if recovered != common.HexToAddress(signer.Address()) {
		t.Fatalf("recovered %s", recovered.Hex())
	}

	again, _ := signer.SignTypedData(context.Background(), domain, types, "Permit", message)
	if common.Bytes2Hex(again) != common.Bytes2Hex(sig) {
		t.Fatalf("signatures are not deterministic")
	}

	// crypto.Sign expects recovery id 0/1
	raw := common.CopyBytes(sig)
	raw[64] -= 27
	pub, err := crypto.SigToPub(digest, raw)
	if err != nil || crypto.PubkeyToAddress(*pub) != recovered {
		t.Fatalf("raw recovery mismatch: %v", err)
	}
}

func TestSignTypedData_CancelledContext(t *testing.T) {
	signer, err := NewSignerFromPrivateKey(hardhatKey)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = signer.SignTypedData(ctx, relayevm.TypedDataDomain{}, nil, relayevm.PrimaryTypeForwardRequest, nil)
	if err == nil {
		t.Fatal("expected context error")
	}
}
