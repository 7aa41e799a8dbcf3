package models

import (
	"time"

	"github.com/google/uuid"
)

// Decision is a signer's verdict on one approval request. It transitions
// exactly once from pending to a terminal value.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// SignerApproval is one signer's decision on one ApprovalRequest. These
// rows are the source of truth for who decided what; the request counter
// is derived, never the other way round.
type SignerApproval struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_request_signer" json:"requestId"`
	SignerID  uuid.UUID `gorm:"type:uuid;index;uniqueIndex:idx_request_signer" json:"signerId"`

	Decision Decision `gorm:"index" json:"decision"`

	Signature []byte `json:"signature,omitempty"`
	// PublicKey records the key the signature verified against, for audit.
	PublicKey       *string `json:"publicKey,omitempty"`
	RejectionReason *string `json:"rejectionReason,omitempty"`

	DecidedAt *time.Time `json:"decidedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}
