// Package chain defines the capability contracts the core needs from a
// blockchain integration: canonical signing-payload encoding, one-time
// address derivation, and transaction broadcast. Connectors are injected
// explicitly per chain identifier, never reached through ambient state.
package chain

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SignerSignature is one approved signer's contribution handed to a
// connector for broadcast, in signer display order.
type SignerSignature struct {
	SignerID  uuid.UUID
	Signature []byte
	PublicKey string
}

// Connector is the per-chain capability the wallet and approval services
// depend on.
type Connector interface {
	// ChainID identifies the chain this connector serves, e.g. "ethereum".
	ChainID() string

	// DeriveAddress produces the wallet's on-chain address from its fully
	// populated signer set. Called exactly once per wallet, at activation.
	DeriveAddress(publicKeys []string, requiredSignatures int) (string, error)

	// EncodeSigningPayload turns an opaque action payload into the
	// canonical raw byte string every signer must sign. Deterministic.
	EncodeSigningPayload(kind string, payload []byte) ([]byte, error)

	// Broadcast submits the assembled transaction to the chain network.
	Broadcast(ctx context.Context, signatures []SignerSignature, payload []byte) (*BroadcastResult, error)
}

// BroadcastResult is the outcome of a successful broadcast.
type BroadcastResult struct {
	TxHash string
}

// BroadcastError distinguishes retryable submission failures (fee spikes,
// nonce races, transient network errors) from terminal ones.
type BroadcastError struct {
	Err       error
	Retryable bool
}

func (e *BroadcastError) Error() string { return e.Err.Error() }

func (e *BroadcastError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a broadcast failure worth retrying
// with a fresh request. Works through wrapping.
func IsRetryable(err error) bool {
	var be *BroadcastError
	return errors.As(err, &be) && be.Retryable
}
