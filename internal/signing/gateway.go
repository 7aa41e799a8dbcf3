// Package signing implements the single-party request/response protocol
// for remote hardware signers: the gateway issues the raw data to sign,
// tracks a short-lived pending request, and accepts exactly one signature
// submission before expiry. It is the 1-of-1 analogue of the approval
// coordinator's per-signer decision protocol.
package signing

import (
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

// Gateway drives the remote-signing request lifecycle.
type Gateway struct {
	db        *gorm.DB
	chains    *chain.Registry
	validator sigverify.Validator
	bus       *events.Bus
	ttl       time.Duration

	now func() time.Time
}

// NewGateway creates the external signing gateway. ttl is the submission
// window for new signing requests; it must be positive.
func NewGateway(db *gorm.DB, chains *chain.Registry, validator sigverify.Validator, bus *events.Bus, ttl time.Duration) *Gateway {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Gateway{
		db:        db,
		chains:    chains,
		validator: validator,
		bus:       bus,
		ttl:       ttl,
		now:       time.Now,
	}
}

// CreateSigningRequest opens a signing request against an active device
// association. approvalRequestID links the eventual signature back to an
// approval request when there is one; it may be nil for standalone use.
func (g *Gateway) CreateSigningRequest(signerID uuid.UUID, approvalRequestID *uuid.UUID, payload []byte) (*models.SigningRequest, error) {
	var signer models.Signer
	if err := g.db.First(&signer, "id = ?", signerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(walleterr.ErrNotFound, "signer %s", signerID)
		}
		return nil, err
	}
	if !signer.Active {
		return nil, errors.Wrapf(walleterr.ErrAssociationInactive, "signer %s", signerID)
	}

	var w models.Wallet
	if err := g.db.First(&w, "id = ?", signer.WalletID).Error; err != nil {
		return nil, err
	}
	connector, err := g.chains.Get(w.ChainID)
	if err != nil {
		return nil, err
	}

	rawData := payload
	if approvalRequestID != nil {
		var ar models.ApprovalRequest
		if err := g.db.First(&ar, "id = ?", *approvalRequestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errors.Wrapf(walleterr.ErrNotFound, "request %s", *approvalRequestID)
			}
			return nil, err
		}
		// The device must sign exactly what the quorum engine expects.
		rawData = ar.RawData
	} else {
		rawData, err = connector.EncodeSigningPayload("signing", payload)
		if err != nil {
			return nil, err
		}
	}

	req := &models.SigningRequest{
		ID:        uuid.New(),
		SignerID:  signerID,
		RequestID: approvalRequestID,
		Payload:   payload,
		RawData:   rawData,
		ExpiresAt: g.now().Add(g.ttl),
		State:     models.SigningPending,
	}
	if err := g.db.Create(req).Error; err != nil {
		return nil, err
	}

	logger.Log.Infof("opened signing request %s for device signer %s, expires %s", req.ID, signerID, req.ExpiresAt)
	g.bus.Publish(events.Event{Type: events.SigningCreated, WalletID: signer.WalletID, SignerID: signerID})
	return req, nil
}

// Get loads a signing request by id.
func (g *Gateway) Get(requestID uuid.UUID) (*models.SigningRequest, error) {
	var req models.SigningRequest
	if err := g.db.First(&req, "id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(walleterr.ErrNotFound, "signing request %s", requestID)
		}
		return nil, err
	}
	return &req, nil
}

// SubmitSignature accepts the device's signature. Exactly one submission
// succeeds: the conditional update on the pending state loses every race,
// whether against a second submission, a cancellation or the sweeper.
func (g *Gateway) SubmitSignature(requestID uuid.UUID, signature []byte, devicePublicKeyHex string) (*models.SigningRequest, error) {
	var signerID uuid.UUID
	err := g.db.Transaction(func(tx *gorm.DB) error {
		var req models.SigningRequest
		if err := tx.First(&req, "id = ?", requestID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(walleterr.ErrNotFound, "signing request %s", requestID)
			}
			return err
		}
		signerID = req.SignerID

		if req.State != models.SigningPending {
			return errors.Wrapf(walleterr.ErrRequestNotPending, "signing request %s is %s", req.ID, req.State)
		}
		if req.Expired(g.now()) {
			return errors.Wrapf(walleterr.ErrRequestExpired, "signing request %s expired at %s", req.ID, req.ExpiresAt)
		}

		if !g.validator.Verify(req.RawData, signature, devicePublicKeyHex) {
			logger.Log.Warnf("audit: invalid device signature on signing request %s", req.ID)
			return errors.Wrapf(walleterr.ErrSignatureInvalid, "signing request %s", req.ID)
		}

		res := tx.Model(&models.SigningRequest{}).
			Where("id = ? AND state = ?", req.ID, models.SigningPending).
			Updates(map[string]interface{}{
				"state":             models.SigningCompleted,
				"signature":         signature,
				"device_public_key": devicePublicKeyHex,
				"completed_at":      g.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(walleterr.ErrRequestNotPending, "signing request %s left the pending state", req.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, walleterr.ErrRequestExpired) {
			g.markExpired(requestID, signerID)
		}
		return nil, err
	}

	logger.Log.Infof("signing request %s completed", requestID)
	g.bus.Publish(events.Event{Type: events.SigningCompleted, WalletID: g.walletOf(signerID), SignerID: signerID})
	return g.Get(requestID)
}

// Cancel withdraws a pending signing request.
func (g *Gateway) Cancel(requestID uuid.UUID) error {
	req, err := g.Get(requestID)
	if err != nil {
		return err
	}
	res := g.db.Model(&models.SigningRequest{}).
		Where("id = ? AND state = ?", requestID, models.SigningPending).
		Update("state", models.SigningCancelled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if req, err = g.Get(requestID); err != nil {
			return err
		}
		return errors.Wrapf(walleterr.ErrRequestNotCancellable, "signing request %s is %s", requestID, req.State)
	}
	g.bus.Publish(events.Event{Type: events.SigningCancelled, WalletID: g.walletOf(req.SignerID), SignerID: req.SignerID})
	return nil
}

// walletOf resolves a signer's wallet for event attribution; zero when
// the signer row is gone.
func (g *Gateway) walletOf(signerID uuid.UUID) uuid.UUID {
	var signer models.Signer
	if err := g.db.First(&signer, "id = ?", signerID).Error; err != nil {
		return uuid.Nil
	}
	return signer.WalletID
}

// Status reports the request's state. A request whose expiry has passed
// reports state expired and isExpired true regardless of the stored state
// field.
func (g *Gateway) Status(requestID uuid.UUID) (*SigningStatus, error) {
	req, err := g.Get(requestID)
	if err != nil {
		return nil, err
	}

	state := req.State
	expired := state == models.SigningExpired
	if state == models.SigningPending && req.Expired(g.now()) {
		state = models.SigningExpired
		expired = true
	}

	return &SigningStatus{
		RequestID:   req.ID,
		State:       state,
		ExpiresAt:   req.ExpiresAt,
		IsExpired:   expired,
		CompletedAt: req.CompletedAt,
	}, nil
}

// SigningStatus is the gateway's status projection.
type SigningStatus struct {
	RequestID   uuid.UUID           `json:"requestId"`
	State       models.SigningState `json:"state"`
	ExpiresAt   time.Time           `json:"expiresAt"`
	IsExpired   bool                `json:"isExpired"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}

// markExpired transitions one overdue pending signing request, exactly as
// the sweeper would.
func (g *Gateway) markExpired(requestID, signerID uuid.UUID) {
	res := g.db.Model(&models.SigningRequest{}).
		Where("id = ? AND state = ? AND expires_at <= ?", requestID, models.SigningPending, g.now()).
		Update("state", models.SigningExpired)
	if res.Error != nil {
		logger.Log.Errorf("failed to expire signing request %s: %v", requestID, res.Error)
		return
	}
	if res.RowsAffected == 1 {
		g.bus.Publish(events.Event{Type: events.SigningExpired, WalletID: g.walletOf(signerID), SignerID: signerID})
	}
}

// ExpireOldRequests bulk-transitions pending signing requests past their
// expiry. Idempotent; returns the number affected.
func (g *Gateway) ExpireOldRequests() (int64, error) {
	res := g.db.Model(&models.SigningRequest{}).
		Where("state = ? AND expires_at <= ?", models.SigningPending, g.now()).
		Update("state", models.SigningExpired)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		logger.Log.Infof("expired %d signing requests", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
