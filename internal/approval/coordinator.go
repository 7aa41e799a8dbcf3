// Package approval implements the quorum engine: it opens approval
// requests against a wallet's signer set, records per-signer decisions,
// and detects quorum atomically so that exactly one submission performs
// the pending -> approved transition no matter how many signers cross the
// threshold at once.
package approval

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"custody-node/internal/chain"
	"custody-node/internal/events"
	"custody-node/internal/logger"
	"custody-node/internal/sigverify"
	"custody-node/internal/storage/models"
	"custody-node/internal/walleterr"
)

// Coordinator drives the approval request state machine.
type Coordinator struct {
	db        *gorm.DB
	chains    *chain.Registry
	validator sigverify.Validator
	bus       *events.Bus
	ttl       time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewCoordinator creates the quorum engine. ttl is the expiry window for
// new requests; it must be positive.
func NewCoordinator(db *gorm.DB, chains *chain.Registry, validator sigverify.Validator, bus *events.Bus, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Coordinator{
		db:        db,
		chains:    chains,
		validator: validator,
		bus:       bus,
		ttl:       ttl,
		now:       time.Now,
	}
}

// CreateRequest opens an approval request on an active wallet. The quorum
// requirement is snapshotted from the wallet and one pending decision row
// is created per currently-active signer.
func (c *Coordinator) CreateRequest(walletID uuid.UUID, initiatorID string, kind models.RequestKind, payload []byte) (*models.ApprovalRequest, error) {
	var request *models.ApprovalRequest
	err := c.db.Transaction(func(tx *gorm.DB) error {
		var w models.Wallet
		if err := tx.First(&w, "id = ?", walletID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(walleterr.ErrNotFound, "wallet %s", walletID)
			}
			return err
		}
		if w.State != models.WalletActive {
			return errors.Wrapf(walleterr.ErrWalletNotActive, "wallet %s is %s", w.ID, w.State)
		}

		connector, err := c.chains.Get(w.ChainID)
		if err != nil {
			return err
		}
		rawData, err := connector.EncodeSigningPayload(string(kind), payload)
		if err != nil {
			return err
		}

		var signers []models.Signer
		if err := tx.Where("wallet_id = ? AND active = ?", w.ID, true).
			Order("order_index asc").Find(&signers).Error; err != nil {
			return err
		}

		now := c.now()
		request = &models.ApprovalRequest{
			ID:                 uuid.New(),
			WalletID:           w.ID,
			InitiatorID:        initiatorID,
			Kind:               kind,
			Payload:            payload,
			RawData:            rawData,
			RequiredSignatures: w.RequiredSignatures,
			ExpiresAt:          now.Add(c.ttl),
			State:              models.RequestPending,
		}
		if err := tx.Create(request).Error; err != nil {
			return err
		}

		for _, s := range signers {
			a := models.SignerApproval{
				ID:        uuid.New(),
				RequestID: request.ID,
				SignerID:  s.ID,
				Decision:  models.DecisionPending,
			}
			if err := tx.Create(&a).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Infof("opened request %s (%s) on wallet %s, quorum %d", request.ID, kind, walletID, request.RequiredSignatures)
	c.bus.Publish(events.Event{Type: events.RequestCreated, WalletID: walletID, RequestID: request.ID})
	return request, nil
}

// Get loads a request with its decision rows.
func (c *Coordinator) Get(requestID uuid.UUID) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	err := c.db.Preload("Approvals").First(&req, "id = ?", requestID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(walleterr.ErrNotFound, "request %s", requestID)
		}
		return nil, err
	}
	return &req, nil
}

// SubmitSignature records one signer's approval. The decision flip, the
// counter increment and the quorum check run as one serialized step:
// conditional updates guarded on the previous state, inside a single
// transaction, so two racing signers can never both perform the
// pending -> approved transition and a duplicate can never bump the
// counter twice.
//
// Signatures arriving after quorum (request already approved) are still
// verified and recorded; they do not re-transition the request.
func (c *Coordinator) SubmitSignature(requestID, signerID uuid.UUID, signature []byte, publicKeyHex string) (*models.ApprovalRequest, error) {
	var quorumReached bool
	var walletID uuid.UUID

	err := c.db.Transaction(func(tx *gorm.DB) error {
		var req models.ApprovalRequest
		if err := tx.First(&req, "id = ?", requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(walleterr.ErrNotFound, "request %s", requestID)
			}
			return err
		}
		walletID = req.WalletID

		switch req.State {
		case models.RequestPending, models.RequestApproved:
		default:
			return errors.Wrapf(walleterr.ErrRequestNotPending, "request %s is %s", req.ID, req.State)
		}
		if req.Expired(c.now()) {
			return errors.Wrapf(walleterr.ErrRequestExpired, "request %s expired at %s", req.ID, req.ExpiresAt)
		}

		var approval models.SignerApproval
		err := tx.First(&approval, "request_id = ? AND signer_id = ?", req.ID, signerID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(walleterr.ErrUnauthorized, "signer %s has no decision slot on request %s", signerID, req.ID)
			}
			return err
		}
		if approval.Decision != models.DecisionPending {
			return errors.Wrapf(walleterr.ErrDuplicateDecision, "signer %s already %s", signerID, approval.Decision)
		}

		var signer models.Signer
		if err := tx.First(&signer, "id = ?", signerID).Error; err != nil {
			return err
		}
		if signer.PublicKey != publicKeyHex {
			return errors.Wrapf(walleterr.ErrSignatureInvalid, "public key does not match signer %s", signerID)
		}
		if !c.validator.Verify(req.RawData, signature, publicKeyHex) {
			logger.Log.Warnf("audit: invalid signature from signer %s on request %s", signerID, req.ID)
			return errors.Wrapf(walleterr.ErrSignatureInvalid, "signer %s on request %s", signerID, req.ID)
		}

		decidedAt := c.now()
		res := tx.Model(&models.SignerApproval{}).
			Where("id = ? AND decision = ?", approval.ID, models.DecisionPending).
			Updates(map[string]interface{}{
				"decision":   models.DecisionApproved,
				"signature":  signature,
				"public_key": publicKeyHex,
				"decided_at": decidedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(walleterr.ErrDuplicateDecision, "signer %s raced a second submission", signerID)
		}

		res = tx.Model(&models.ApprovalRequest{}).
			Where("id = ? AND state IN ?", req.ID, []models.RequestState{models.RequestPending, models.RequestApproved}).
			Update("current_signatures", gorm.Expr("current_signatures + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(walleterr.ErrRequestNotPending, "request %s left the decision window", req.ID)
		}

		// First writer to observe quorum wins this update; everyone else
		// matches zero rows and simply keeps their recorded decision.
		res = tx.Model(&models.ApprovalRequest{}).
			Where("id = ? AND state = ? AND current_signatures >= required_signatures", req.ID, models.RequestPending).
			Update("state", models.RequestApproved)
		if res.Error != nil {
			return res.Error
		}
		quorumReached = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		// A rejected-as-expired submission transitions the request the
		// same way the sweeper would, outside the rolled-back tx.
		if errors.Is(err, walleterr.ErrRequestExpired) {
			c.markExpired(requestID, walletID)
		}
		return nil, err
	}

	c.bus.Publish(events.Event{Type: events.DecisionRecorded, WalletID: walletID, RequestID: requestID, SignerID: signerID})
	if quorumReached {
		logger.Log.Infof("request %s reached quorum", requestID)
		c.bus.Publish(events.Event{Type: events.QuorumReached, WalletID: walletID, RequestID: requestID})
	}
	return c.Get(requestID)
}

// RejectRequest records a terminal rejection for one signer. A rejection
// is not a veto: the request stays pending for the remaining signers,
// unless no pending decision is left and quorum has become unreachable,
// in which case the request transitions to rejected.
func (c *Coordinator) RejectRequest(requestID, signerID uuid.UUID, reason string) (*models.ApprovalRequest, error) {
	var walletID uuid.UUID
	var requestRejected bool

	err := c.db.Transaction(func(tx *gorm.DB) error {
		var req models.ApprovalRequest
		if err := tx.First(&req, "id = ?", requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(walleterr.ErrNotFound, "request %s", requestID)
			}
			return err
		}
		walletID = req.WalletID

		if req.State != models.RequestPending {
			return errors.Wrapf(walleterr.ErrRequestNotPending, "request %s is %s", req.ID, req.State)
		}
		if req.Expired(c.now()) {
			return errors.Wrapf(walleterr.ErrRequestExpired, "request %s expired at %s", req.ID, req.ExpiresAt)
		}

		var approval models.SignerApproval
		err := tx.First(&approval, "request_id = ? AND signer_id = ?", req.ID, signerID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(walleterr.ErrUnauthorized, "signer %s has no decision slot on request %s", signerID, req.ID)
			}
			return err
		}

		decidedAt := c.now()
		res := tx.Model(&models.SignerApproval{}).
			Where("id = ? AND decision = ?", approval.ID, models.DecisionPending).
			Updates(map[string]interface{}{
				"decision":         models.DecisionRejected,
				"rejection_reason": reason,
				"decided_at":       decidedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(walleterr.ErrDuplicateDecision, "signer %s already decided", signerID)
		}

		var pendingLeft int64
		if err := tx.Model(&models.SignerApproval{}).
			Where("request_id = ? AND decision = ?", req.ID, models.DecisionPending).
			Count(&pendingLeft).Error; err != nil {
			return err
		}
		if pendingLeft == 0 && req.CurrentSignatures < req.RequiredSignatures {
			// Every signer has spoken and quorum can no longer be reached.
			res := tx.Model(&models.ApprovalRequest{}).
				Where("id = ? AND state = ?", req.ID, models.RequestPending).
				Update("state", models.RequestRejected)
			if res.Error != nil {
				return res.Error
			}
			requestRejected = res.RowsAffected == 1
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, walleterr.ErrRequestExpired) {
			c.markExpired(requestID, walletID)
		}
		return nil, err
	}

	c.bus.Publish(events.Event{Type: events.DecisionRecorded, WalletID: walletID, RequestID: requestID, SignerID: signerID, Detail: reason})
	if requestRejected {
		logger.Log.Infof("request %s rejected by all remaining signers", requestID)
		c.bus.Publish(events.Event{Type: events.RequestRejected, WalletID: walletID, RequestID: requestID})
	}
	return c.Get(requestID)
}

// CancelRequest withdraws a pending request. Only the initiator or the
// wallet owner may cancel. Cancellation and approval are mutually
// exclusive: the conditional update loses against a concurrent quorum
// transition, and vice versa.
func (c *Coordinator) CancelRequest(requestID uuid.UUID, actorID string) error {
	var walletID uuid.UUID
	err := c.db.Transaction(func(tx *gorm.DB) error {
		var req models.ApprovalRequest
		if err := tx.First(&req, "id = ?", requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(walleterr.ErrNotFound, "request %s", requestID)
			}
			return err
		}
		walletID = req.WalletID

		var w models.Wallet
		if err := tx.First(&w, "id = ?", req.WalletID).Error; err != nil {
			return err
		}
		if actorID != req.InitiatorID && actorID != w.OwnerID {
			return errors.Wrapf(walleterr.ErrUnauthorized, "%s may not cancel request %s", actorID, req.ID)
		}

		res := tx.Model(&models.ApprovalRequest{}).
			Where("id = ? AND state = ?", req.ID, models.RequestPending).
			Update("state", models.RequestCancelled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(walleterr.ErrRequestNotCancellable, "request %s is %s", req.ID, req.State)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Log.Infof("request %s cancelled by %s", requestID, actorID)
	c.bus.Publish(events.Event{Type: events.RequestCancelled, WalletID: walletID, RequestID: requestID})
	return nil
}

// BroadcastTransaction hands a quorum-satisfied request to the wallet's
// chain connector. On failure the request moves to failed and stays
// there: quorum is never rewound, retry means a fresh request.
func (c *Coordinator) BroadcastTransaction(ctx context.Context, requestID uuid.UUID) (*models.ApprovalRequest, error) {
	req, err := c.Get(requestID)
	if err != nil {
		return nil, err
	}
	if req.State != models.RequestApproved {
		return nil, errors.Wrapf(walleterr.ErrQuorumNotReached, "request %s is %s with %d of %d signatures",
			req.ID, req.State, req.CurrentSignatures, req.RequiredSignatures)
	}

	// Claim the broadcast: only one caller moves approved -> broadcasting.
	res := c.db.Model(&models.ApprovalRequest{}).
		Where("id = ? AND state = ?", req.ID, models.RequestApproved).
		Update("state", models.RequestBroadcasting)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errors.Wrapf(walleterr.ErrRequestNotPending, "request %s is already being broadcast", req.ID)
	}

	var w models.Wallet
	if err := c.db.First(&w, "id = ?", req.WalletID).Error; err != nil {
		c.compensate(req, err)
		return nil, err
	}
	connector, err := c.chains.Get(w.ChainID)
	if err != nil {
		c.compensate(req, err)
		return nil, err
	}

	signatures, err := c.collectSignatures(req)
	if err != nil {
		c.compensate(req, err)
		return nil, err
	}

	result, err := connector.Broadcast(ctx, signatures, req.Payload)
	if err != nil {
		c.compensate(req, err)
		return nil, errors.Wrapf(walleterr.ErrBroadcastFailure, "request %s: %v", req.ID, err)
	}

	completedAt := c.now()
	if err := c.db.Model(&models.ApprovalRequest{}).
		Where("id = ? AND state = ?", req.ID, models.RequestBroadcasting).
		Updates(map[string]interface{}{
			"state":        models.RequestCompleted,
			"tx_hash":      result.TxHash,
			"completed_at": completedAt,
		}).Error; err != nil {
		return nil, err
	}

	logger.Log.Infof("request %s completed, tx %s", req.ID, result.TxHash)
	c.bus.Publish(events.Event{Type: events.BroadcastCompleted, WalletID: req.WalletID, RequestID: req.ID, Detail: result.TxHash})
	return c.Get(requestID)
}

// collectSignatures gathers the approved decision tuples in signer display
// order for handoff to the connector.
func (c *Coordinator) collectSignatures(req *models.ApprovalRequest) ([]chain.SignerSignature, error) {
	var approvals []models.SignerApproval
	err := c.db.
		Select("signer_approvals.*").
		Joins("JOIN signers ON signers.id = signer_approvals.signer_id").
		Where("signer_approvals.request_id = ? AND signer_approvals.decision = ?", req.ID, models.DecisionApproved).
		Order("signers.order_index asc").
		Find(&approvals).Error
	if err != nil {
		return nil, err
	}

	signatures := make([]chain.SignerSignature, 0, len(approvals))
	for _, a := range approvals {
		sig := chain.SignerSignature{SignerID: a.SignerID, Signature: a.Signature}
		if a.PublicKey != nil {
			sig.PublicKey = *a.PublicKey
		}
		signatures = append(signatures, sig)
	}
	return signatures, nil
}

// compensate records a terminal broadcast failure. Signature rows are kept
// for audit; any provisional holds are released by the subscribers of the
// failure event.
func (c *Coordinator) compensate(req *models.ApprovalRequest, cause error) {
	reason := cause.Error()
	if err := c.db.Model(&models.ApprovalRequest{}).
		Where("id = ? AND state = ?", req.ID, models.RequestBroadcasting).
		Updates(map[string]interface{}{
			"state":          models.RequestFailed,
			"failure_reason": reason,
		}).Error; err != nil {
		logger.Log.Errorf("failed to record broadcast failure for request %s: %v", req.ID, err)
		return
	}
	logger.Log.Errorf("request %s failed to broadcast (retryable=%v): %v", req.ID, chain.IsRetryable(cause), cause)
	c.bus.Publish(events.Event{Type: events.BroadcastFailed, WalletID: req.WalletID, RequestID: req.ID, Detail: reason})
}

// markExpired transitions one overdue pending request, exactly as the
// sweeper would. Losing the conditional update to a concurrent writer is
// fine; the request then already left the pending state.
func (c *Coordinator) markExpired(requestID, walletID uuid.UUID) {
	res := c.db.Model(&models.ApprovalRequest{}).
		Where("id = ? AND state = ? AND expires_at <= ?", requestID, models.RequestPending, c.now()).
		Update("state", models.RequestExpired)
	if res.Error != nil {
		logger.Log.Errorf("failed to expire request %s: %v", requestID, res.Error)
		return
	}
	if res.RowsAffected == 1 {
		c.bus.Publish(events.Event{Type: events.RequestExpired, WalletID: walletID, RequestID: requestID})
	}
}

// ExpireOldRequests bulk-transitions every pending request past its expiry
// to expired. Idempotent; returns the number of requests affected.
func (c *Coordinator) ExpireOldRequests() (int64, error) {
	res := c.db.Model(&models.ApprovalRequest{}).
		Where("state = ? AND expires_at <= ?", models.RequestPending, c.now()).
		Update("state", models.RequestExpired)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logger.Log.Infof("expired %d approval requests", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
