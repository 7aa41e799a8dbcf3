package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"custody-node/internal/logger"
)

// DevConnector is a loopback connector for local development and staging
// environments without a live chain node. Addresses and transaction hashes
// are deterministic digests; nothing leaves the process.
type DevConnector struct {
	chainID string
}

// NewDevConnector returns a loopback connector for the given chain id.
func NewDevConnector(chainID string) *DevConnector {
	return &DevConnector{chainID: chainID}
}

func (c *DevConnector) ChainID() string { return c.chainID }

// DeriveAddress hashes the sorted public key set together with the quorum
// parameter, so the address is stable for a given signer configuration.
func (c *DevConnector) DeriveAddress(publicKeys []string, requiredSignatures int) (string, error) {
	if len(publicKeys) == 0 {
		return "", fmt.Errorf("cannot derive address without public keys")
	}
	keys := append([]string(nil), publicKeys...)
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|", c.chainID, requiredSignatures)
	h.Write([]byte(strings.Join(keys, ",")))
	return "0x" + hex.EncodeToString(h.Sum(nil)[:20]), nil
}

// EncodeSigningPayload prefixes the payload with the chain id and action
// kind so signatures cannot be replayed across chains or action types.
func (c *DevConnector) EncodeSigningPayload(kind string, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty action payload")
	}
	raw := make([]byte, 0, len(c.chainID)+len(kind)+len(payload)+2)
	raw = append(raw, c.chainID...)
	raw = append(raw, '|')
	raw = append(raw, kind...)
	raw = append(raw, '|')
	raw = append(raw, payload...)
	return raw, nil
}

// Broadcast fabricates a deterministic transaction hash from the payload
// and signature set.
func (c *DevConnector) Broadcast(_ context.Context, signatures []SignerSignature, payload []byte) (*BroadcastResult, error) {
	h := sha256.New()
	h.Write(payload)
	for _, sig := range signatures {
		h.Write(sig.Signature)
	}
	txHash := "0x" + hex.EncodeToString(h.Sum(nil))
	logger.Log.Infof("dev connector %s accepted transaction %s with %d signatures", c.chainID, txHash, len(signatures))
	return &BroadcastResult{TxHash: txHash}, nil
}
