package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestState is the lifecycle state of an approval request. Transitions
// are monotonic; no state is ever revisited.
type RequestState string

const (
	RequestPending      RequestState = "pending"
	RequestApproved     RequestState = "approved"
	RequestBroadcasting RequestState = "broadcasting"
	RequestCompleted    RequestState = "completed"
	RequestFailed       RequestState = "failed"
	RequestRejected     RequestState = "rejected"
	RequestCancelled    RequestState = "cancelled"
	RequestExpired      RequestState = "expired"
)

// RequestKind is the category of action a request proposes.
type RequestKind string

const (
	RequestTransfer     RequestKind = "transfer"
	RequestConfigChange RequestKind = "config_change"
	RequestAddSigner    RequestKind = "add_signer"
	RequestRemoveSigner RequestKind = "remove_signer"
)

// ApprovalRequest is one proposed action awaiting quorum. The quorum
// parameters are snapshotted from the wallet at creation time so later
// wallet changes cannot move the bar for an in-flight request.
type ApprovalRequest struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	WalletID    uuid.UUID   `gorm:"type:uuid;index" json:"walletId"`
	InitiatorID string      `gorm:"index" json:"initiatorId"`
	Kind        RequestKind `json:"kind"`

	// Payload is the opaque action payload; RawData is the canonical
	// byte string signers actually sign, derived from it by the chain
	// connector.
	Payload []byte `json:"payload"`
	RawData []byte `json:"rawData"`

	RequiredSignatures int `json:"requiredSignatures"`
	// CurrentSignatures only increases, and only together with flipping
	// the matching SignerApproval row in the same transaction. The
	// approval rows are the source of truth; the counter exists for the
	// atomic quorum predicate.
	CurrentSignatures int `json:"currentSignatures"`

	TxHash        *string `json:"txHash,omitempty"`
	FailureReason *string `json:"failureReason,omitempty"`

	ExpiresAt   time.Time    `gorm:"index" json:"expiresAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	State       RequestState `gorm:"index" json:"state"`

	Approvals []SignerApproval `gorm:"foreignKey:RequestID" json:"approvals,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired reports whether the expiry timestamp has passed, regardless of
// whether the sweeper has transitioned the stored state yet.
func (r *ApprovalRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Terminal reports whether the request can no longer change state.
func (s RequestState) Terminal() bool {
	switch s {
	case RequestCompleted, RequestFailed, RequestRejected, RequestCancelled, RequestExpired:
		return true
	}
	return false
}
