package models

import (
	"time"

	"github.com/google/uuid"
)

// SigningState is the lifecycle state of a single-party signing request.
type SigningState string

const (
	SigningPending   SigningState = "pending"
	SigningCompleted SigningState = "completed"
	SigningCancelled SigningState = "cancelled"
	SigningExpired   SigningState = "expired"
)

// SigningRequest is the single-party protocol record used when a decision
// must be produced by a remote hardware device: raw data goes out, exactly
// one signature comes back before the (short) expiry.
type SigningRequest struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SignerID uuid.UUID `gorm:"type:uuid;index" json:"signerId"`

	// RequestID links back to the approval request this signature is
	// destined for, when there is one.
	RequestID *uuid.UUID `gorm:"type:uuid;index" json:"requestId,omitempty"`

	Payload []byte `json:"payload"`
	RawData []byte `json:"rawData"`

	Signature       []byte  `json:"signature,omitempty"`
	DevicePublicKey *string `json:"devicePublicKey,omitempty"`

	ExpiresAt   time.Time    `gorm:"index" json:"expiresAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	State       SigningState `gorm:"index" json:"state"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired reports whether the expiry timestamp has passed, even before the
// sweeper has transitioned the stored state.
func (r *SigningRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
