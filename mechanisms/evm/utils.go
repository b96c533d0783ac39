package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NormalizeAddress returns the EIP-55 checksummed form of address.
func NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// IsValidAddress reports whether address is a 20-byte hex address.
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// HexToBytes decodes a hex string with or without 0x prefix.
func HexToBytes(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return []byte{}, nil
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// BytesToHex encodes b as 0x-prefixed hex.
func BytesToHex(b []byte) string {
	return hexutil.Encode(b)
}
