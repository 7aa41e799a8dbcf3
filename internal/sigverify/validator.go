// Package sigverify verifies submitted signatures against the raw signing
// data of a request. It is a pure collaborator: no side effects, no I/O.
package sigverify

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Validator checks a signature over rawData against a hex-encoded public
// key. Implementations must be deterministic and side-effect free.
type Validator interface {
	Verify(rawData, signature []byte, publicKeyHex string) bool
}

// MultiScheme verifies secp256k1 (ECDSA over the sha256 digest of rawData,
// DER signature) and ed25519 (signature over rawData directly). The scheme
// is selected by the decoded public key length: 33 or 65 bytes is a
// secp256k1 key, 32 bytes is ed25519.
type MultiScheme struct{}

// NewValidator returns the production validator.
func NewValidator() *MultiScheme {
	return &MultiScheme{}
}

func (MultiScheme) Verify(rawData, signature []byte, publicKeyHex string) bool {
	pubKeyBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false
	}

	switch len(pubKeyBytes) {
	case 33, 65:
		pubKey, err := btcec.ParsePubKey(pubKeyBytes)
		if err != nil {
			return false
		}
		sig, err := btcecdsa.ParseDERSignature(signature)
		if err != nil {
			return false
		}
		digest := sha256.Sum256(rawData)
		return sig.Verify(digest[:], pubKey)
	case ed25519.PublicKeySize:
		if len(signature) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pubKeyBytes), rawData, signature)
	default:
		return false
	}
}
