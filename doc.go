// Package relay holds the shared types of the gasless relay SDK: signed
// ERC-2771 forward requests, their JSON wire form, relay errors, preparation
// hooks and the per-sender nonce sequencer.
//
// Requests are prepared and signed by mechanisms/evm, transmitted by the
// http package and checked by the reference endpoint in relayserver.
package relay
