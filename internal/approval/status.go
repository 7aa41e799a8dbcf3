package approval

import (
	"time"

	"github.com/google/uuid"

	"custody-node/internal/storage/models"
)

// DecisionView is one signer's decision in a status projection.
type DecisionView struct {
	SignerID        uuid.UUID       `json:"signerId"`
	Decision        models.Decision `json:"decision"`
	RejectionReason *string         `json:"rejectionReason,omitempty"`
	DecidedAt       *time.Time      `json:"decidedAt,omitempty"`
}

// Status is a read-only projection of a request's quorum progress.
//
// Expired is computed from the expiry timestamp, so a request whose TTL
// has passed reports expired even before the sweeper has transitioned it.
type Status struct {
	RequestID           uuid.UUID           `json:"requestId"`
	State               models.RequestState `json:"state"`
	RequiredSignatures  int                 `json:"requiredSignatures"`
	CurrentSignatures   int                 `json:"currentSignatures"`
	RemainingSignatures int                 `json:"remainingSignatures"`
	ExpiresAt           time.Time           `json:"expiresAt"`
	Expired             bool                `json:"expired"`
	CanSubmit           bool                `json:"canSubmit"`
	TxHash              *string             `json:"txHash,omitempty"`
	Decisions           []DecisionView      `json:"decisions"`
}

// GetApprovalStatus builds the status projection for a request.
func (c *Coordinator) GetApprovalStatus(requestID uuid.UUID) (*Status, error) {
	req, err := c.Get(requestID)
	if err != nil {
		return nil, err
	}

	// The submission window closes at the expiry timestamp whether or not
	// quorum was already reached, so an approved request past its TTL
	// reports expired and CanSubmit=false, matching what a submission
	// would get. Broadcast of an approved request is unaffected.
	now := c.now()
	inWindow := req.State == models.RequestPending || req.State == models.RequestApproved
	expired := req.State == models.RequestExpired || (inWindow && req.Expired(now))

	remaining := req.RequiredSignatures - req.CurrentSignatures
	if remaining < 0 {
		remaining = 0
	}

	status := &Status{
		RequestID:           req.ID,
		State:               req.State,
		RequiredSignatures:  req.RequiredSignatures,
		CurrentSignatures:   req.CurrentSignatures,
		RemainingSignatures: remaining,
		ExpiresAt:           req.ExpiresAt,
		Expired:             expired,
		CanSubmit:           inWindow && !expired,
		TxHash:              req.TxHash,
	}
	for _, a := range req.Approvals {
		status.Decisions = append(status.Decisions, DecisionView{
			SignerID:        a.SignerID,
			Decision:        a.Decision,
			RejectionReason: a.RejectionReason,
			DecidedAt:       a.DecidedAt,
		})
	}
	return status, nil
}

// PendingDecision is one outstanding decision awaiting a principal.
type PendingDecision struct {
	WalletID  uuid.UUID          `json:"walletId"`
	RequestID uuid.UUID          `json:"requestId"`
	SignerID  uuid.UUID          `json:"signerId"`
	Kind      models.RequestKind `json:"kind"`
	ExpiresAt time.Time          `json:"expiresAt"`
}

// PendingRequestsForSigner lists every live request on which the principal
// still has a pending decision, across all wallets.
func (c *Coordinator) PendingRequestsForSigner(principalID string) ([]PendingDecision, error) {
	type row struct {
		WalletID  uuid.UUID
		RequestID uuid.UUID
		SignerID  uuid.UUID
		Kind      models.RequestKind
		ExpiresAt time.Time
	}
	var rows []row
	err := c.db.Model(&models.SignerApproval{}).
		Select("approval_requests.wallet_id as wallet_id, approval_requests.id as request_id, signer_approvals.signer_id as signer_id, approval_requests.kind as kind, approval_requests.expires_at as expires_at").
		Joins("JOIN approval_requests ON approval_requests.id = signer_approvals.request_id").
		Joins("JOIN signers ON signers.id = signer_approvals.signer_id").
		Where("signer_approvals.decision = ?", models.DecisionPending).
		Where("approval_requests.state = ? AND approval_requests.expires_at > ?", models.RequestPending, c.now()).
		Where("signers.principal_id = ? AND signers.active = ?", principalID, true).
		Order("approval_requests.expires_at asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	pending := make([]PendingDecision, len(rows))
	for i, r := range rows {
		pending[i] = PendingDecision(r)
	}
	return pending, nil
}
