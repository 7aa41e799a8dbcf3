package models

import (
	"time"

	"github.com/google/uuid"
)

// SignerKind tags the variant of a signer. Each kind has its own required
// fields, enforced by the wallet.SignerSpec constructors rather than by
// nullable columns alone.
type SignerKind string

const (
	// SignerInternal is a platform principal signing through the API.
	SignerInternal SignerKind = "internal"
	// SignerExternal is a custom key held outside the platform.
	SignerExternal SignerKind = "external"
	// SignerHardware is a remote device signing via the gateway protocol.
	SignerHardware SignerKind = "hardware"
)

// Signer is one participant authorized to contribute a decision to a
// wallet. Signers are deactivated on removal, never deleted, so historical
// approvals keep resolving.
type Signer struct {
	ID       uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	WalletID uuid.UUID  `gorm:"type:uuid;index" json:"walletId"`
	Kind     SignerKind `json:"kind"`

	// PublicKey is hex-encoded: 33/65 bytes for secp256k1, 32 for ed25519.
	PublicKey string `json:"publicKey"`

	// PrincipalID is set for internal signers, DeviceID for hardware ones.
	PrincipalID *string `gorm:"index" json:"principalId,omitempty"`
	DeviceID    *string `gorm:"index" json:"deviceId,omitempty"`
	Label       *string `json:"label,omitempty"`

	OrderIndex int  `json:"orderIndex"`
	Active     bool `gorm:"index" json:"active"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
