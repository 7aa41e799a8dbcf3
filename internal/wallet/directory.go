package wallet

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"custody-node/internal/logger"
	"custody-node/internal/storage/models"
	"custody-node/internal/walleterr"
)

// SignerSpec describes one signer to add to a wallet. Use the constructor
// matching the signer kind so the kind's required fields are present by
// construction.
type SignerSpec struct {
	kind        models.SignerKind
	publicKey   string
	principalID *string
	deviceID    *string
	label       *string
}

// InternalSigner is a platform principal who signs through the API.
func InternalSigner(principalID, publicKeyHex string) SignerSpec {
	return SignerSpec{kind: models.SignerInternal, publicKey: publicKeyHex, principalID: &principalID}
}

// ExternalSigner is a custom key held outside the platform.
func ExternalSigner(publicKeyHex, label string) SignerSpec {
	return SignerSpec{kind: models.SignerExternal, publicKey: publicKeyHex, label: &label}
}

// HardwareSigner is a remote device that signs via the gateway protocol.
func HardwareSigner(deviceID, publicKeyHex string) SignerSpec {
	return SignerSpec{kind: models.SignerHardware, publicKey: publicKeyHex, deviceID: &deviceID}
}

func (s SignerSpec) validate() error {
	if s.publicKey == "" {
		return errors.Wrap(walleterr.ErrInvalidConfiguration, "signer public key is required")
	}
	switch s.kind {
	case models.SignerInternal:
		if s.principalID == nil || *s.principalID == "" {
			return errors.Wrap(walleterr.ErrInvalidConfiguration, "internal signer needs a principal")
		}
	case models.SignerHardware:
		if s.deviceID == nil || *s.deviceID == "" {
			return errors.Wrap(walleterr.ErrInvalidConfiguration, "hardware signer needs a device id")
		}
	case models.SignerExternal:
	default:
		return errors.Wrapf(walleterr.ErrInvalidConfiguration, "unknown signer kind %q", s.kind)
	}
	return nil
}

// AddSigner registers a signer on a wallet, assigns the next order index,
// and auto-activates the wallet when the last slot is filled.
func (r *Registry) AddSigner(walletID uuid.UUID, spec SignerSpec) (*models.Signer, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	var created *models.Signer
	var lastSlot bool
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var w models.Wallet
		if err := tx.First(&w, "id = ?", walletID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(walleterr.ErrNotFound, "wallet %s", walletID)
			}
			return err
		}
		switch w.State {
		case models.WalletPendingSetup, models.WalletAwaitingSigners:
		case models.WalletActive, models.WalletSuspended:
			// A configured wallet has no free slots by definition.
			return errors.Wrapf(walleterr.ErrWalletFull, "wallet %s already has %d signers", w.ID, w.TotalSigners)
		default:
			return errors.Wrapf(walleterr.ErrInvalidTransition, "wallet %s is %s, signers are fixed", w.ID, w.State)
		}

		// The counter update is the serialization point: the guard keeps
		// two concurrent adds from both taking the last slot.
		res := tx.Model(&models.Wallet{}).
			Where("id = ? AND active_signers < total_signers", w.ID).
			Update("active_signers", gorm.Expr("active_signers + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(walleterr.ErrWalletFull, "wallet %s already has %d signers", w.ID, w.TotalSigners)
		}

		var maxIndex int64
		if err := tx.Model(&models.Signer{}).
			Where("wallet_id = ?", w.ID).Count(&maxIndex).Error; err != nil {
			return err
		}

		signer := &models.Signer{
			ID:          uuid.New(),
			WalletID:    w.ID,
			Kind:        spec.kind,
			PublicKey:   spec.publicKey,
			PrincipalID: spec.principalID,
			DeviceID:    spec.deviceID,
			Label:       spec.label,
			OrderIndex:  int(maxIndex) + 1,
			Active:      true,
		}
		if err := tx.Create(signer).Error; err != nil {
			return err
		}

		if w.State == models.WalletPendingSetup {
			if err := tx.Model(&models.Wallet{}).
				Where("id = ? AND state = ?", w.ID, models.WalletPendingSetup).
				Update("state", models.WalletAwaitingSigners).Error; err != nil {
				return err
			}
		}

		lastSlot = w.ActiveSigners+1 == w.TotalSigners
		created = signer
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Infof("added %s signer %s to wallet %s at index %d",
		created.Kind, created.ID, walletID, created.OrderIndex)

	if lastSlot {
		if _, err := r.Activate(walletID); err != nil {
			// The signer is stored; activation can be retried explicitly.
			logger.Log.Warnf("auto-activation of wallet %s failed: %v", walletID, err)
		}
	}
	return created, nil
}

// DeactivateSigner removes a signer from the active set. Historical
// approvals recorded against the signer are untouched.
func (r *Registry) DeactivateSigner(signerID uuid.UUID) error {
	return r.flipSigner(signerID, false)
}

// ReactivateSigner returns a deactivated signer to the active set, if a
// slot is free.
func (r *Registry) ReactivateSigner(signerID uuid.UUID) error {
	return r.flipSigner(signerID, true)
}

func (r *Registry) flipSigner(signerID uuid.UUID, active bool) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var s models.Signer
		if err := tx.First(&s, "id = ?", signerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(walleterr.ErrNotFound, "signer %s", signerID)
			}
			return err
		}
		if s.Active == active {
			return nil
		}

		// Flip the row conditionally and let RowsAffected decide whether
		// this caller owns the counter adjustment; an unconditional update
		// would let two concurrent flips both move the counter.
		res := tx.Model(&models.Signer{}).
			Where("id = ? AND active = ?", signerID, !active).
			Update("active", active)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Another caller flipped it first.
			return nil
		}

		if active {
			slot := tx.Model(&models.Wallet{}).
				Where("id = ? AND active_signers < total_signers", s.WalletID).
				Update("active_signers", gorm.Expr("active_signers + 1"))
			if slot.Error != nil {
				return slot.Error
			}
			if slot.RowsAffected == 0 {
				return errors.Wrapf(walleterr.ErrWalletFull, "wallet %s has no free slot", s.WalletID)
			}
		} else {
			if err := tx.Model(&models.Wallet{}).
				Where("id = ?", s.WalletID).
				Update("active_signers", gorm.Expr("active_signers - 1")).Error; err != nil {
				return err
			}
		}
		logger.Log.Infof("signer %s active=%v on wallet %s", signerID, active, s.WalletID)
		return nil
	})
}

// ActiveSigners returns the wallet's active signers ordered by index.
func (r *Registry) ActiveSigners(walletID uuid.UUID) ([]models.Signer, error) {
	var signers []models.Signer
	err := r.db.Where("wallet_id = ? AND active = ?", walletID, true).
		Order("order_index asc").Find(&signers).Error
	return signers, err
}

// IsSigner reports whether the principal is an active signer on the wallet.
func (r *Registry) IsSigner(walletID uuid.UUID, principalID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Signer{}).
		Where("wallet_id = ? AND principal_id = ? AND active = ?", walletID, principalID, true).
		Count(&count).Error
	return count > 0, err
}
