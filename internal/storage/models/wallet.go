package models

import (
	"time"

	"github.com/google/uuid"
)

// WalletState is the lifecycle state of a wallet.
//
// pending_setup -> awaiting_signers -> active <-> suspended, and
// active|suspended -> archived (terminal). Wallets are tombstoned by
// archival, never deleted.
type WalletState string

const (
	WalletPendingSetup    WalletState = "pending_setup"
	WalletAwaitingSigners WalletState = "awaiting_signers"
	WalletActive          WalletState = "active"
	WalletSuspended       WalletState = "suspended"
	WalletArchived        WalletState = "archived"
)

// Wallet is a named M-of-N signing group for one chain.
type Wallet struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID string    `gorm:"index" json:"ownerId"`
	ChainID string    `json:"chainId"`

	RequiredSignatures int `json:"requiredSignatures"`
	TotalSigners       int `json:"totalSigners"`
	// ActiveSigners mirrors the count of active signer rows so that
	// slot checks and auto-activation can run as conditional updates.
	ActiveSigners int `json:"activeSigners"`

	// Address is derived exactly once, on activation.
	Address *string     `gorm:"uniqueIndex" json:"address,omitempty"`
	State   WalletState `gorm:"index" json:"state"`

	Signers []Signer `gorm:"foreignKey:WalletID" json:"signers,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
