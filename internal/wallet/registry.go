// Package wallet owns wallet configuration and the signer directory: who
// is allowed to contribute a decision to which wallet, and whether the
// wallet is in a state to accept approval requests at all.
package wallet

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"custody-node/internal/chain"
	"custody-node/internal/events"
	"custody-node/internal/logger"
	"custody-node/internal/storage/models"
	"custody-node/internal/walleterr"
)

// Registry manages wallet lifecycle and signer membership.
type Registry struct {
	db         *gorm.DB
	chains     *chain.Registry
	bus        *events.Bus
	maxSigners int
}

// NewRegistry creates a wallet registry. maxSigners caps totalSigners at
// wallet creation.
func NewRegistry(db *gorm.DB, chains *chain.Registry, bus *events.Bus, maxSigners int) *Registry {
	return &Registry{db: db, chains: chains, bus: bus, maxSigners: maxSigners}
}

// CreateWallet registers a new M-of-N wallet in pending_setup state.
func (r *Registry) CreateWallet(ownerID, chainID string, requiredSignatures, totalSigners int) (*models.Wallet, error) {
	if requiredSignatures < 1 || requiredSignatures > totalSigners || totalSigners > r.maxSigners {
		return nil, errors.Wrapf(walleterr.ErrInvalidConfiguration,
			"need 1 <= required (%d) <= total (%d) <= %d", requiredSignatures, totalSigners, r.maxSigners)
	}
	if _, err := r.chains.Get(chainID); err != nil {
		return nil, err
	}

	w := &models.Wallet{
		ID:                 uuid.New(),
		OwnerID:            ownerID,
		ChainID:            chainID,
		RequiredSignatures: requiredSignatures,
		TotalSigners:       totalSigners,
		State:              models.WalletPendingSetup,
	}
	if err := r.db.Create(w).Error; err != nil {
		return nil, err
	}
	logger.Log.Infof("created wallet %s (%d-of-%d on %s) for owner %s",
		w.ID, requiredSignatures, totalSigners, chainID, ownerID)
	return w, nil
}

// Get loads a wallet by id.
func (r *Registry) Get(walletID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	if err := r.db.First(&w, "id = ?", walletID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(walleterr.ErrNotFound, "wallet %s", walletID)
		}
		return nil, err
	}
	return &w, nil
}

// Activate transitions a fully configured wallet to active and derives its
// on-chain address. The address is assigned exactly once: a wallet resumed
// from suspension keeps the address it already has.
func (r *Registry) Activate(walletID uuid.UUID) (*models.Wallet, error) {
	var activated *models.Wallet
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
		case models.WalletSuspended:
			// resume path, handled below with the same conditional update
		default:
			return errors.Wrapf(walleterr.ErrInvalidTransition, "wallet %s is %s", w.ID, w.State)
		}

		if w.ActiveSigners != w.TotalSigners {
			return errors.Wrapf(walleterr.ErrSetupIncomplete,
				"wallet %s has %d of %d signers", w.ID, w.ActiveSigners, w.TotalSigners)
		}

		updates := map[string]interface{}{"state": models.WalletActive}
		if w.Address == nil {
			connector, err := r.chains.Get(w.ChainID)
			if err != nil {
				return err
			}
			var signers []models.Signer
			if err := tx.Where("wallet_id = ? AND active = ?", w.ID, true).
				Order("order_index asc").Find(&signers).Error; err != nil {
				return err
			}
			keys := make([]string, len(signers))
			for i, s := range signers {
				keys[i] = s.PublicKey
			}
			address, err := connector.DeriveAddress(keys, w.RequiredSignatures)
			if err != nil {
				return err
			}
			updates["address"] = address
		}

		// Conditional update serializes concurrent activations on the
		// state column: only one caller performs the transition.
		res := tx.Model(&models.Wallet{}).
			Where("id = ? AND state = ?", w.ID, w.State).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(walleterr.ErrInvalidTransition, "wallet %s changed state concurrently", w.ID)
		}

		if err := tx.First(&w, "id = ?", w.ID).Error; err != nil {
			return err
		}
		activated = &w
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Infof("wallet %s activated at address %s", activated.ID, *activated.Address)
	r.bus.Publish(events.Event{Type: events.WalletActivated, WalletID: activated.ID})
	return activated, nil
}

// Suspend pauses an active wallet. Suspended wallets reject new approval
// requests but keep their signer state.
func (r *Registry) Suspend(walletID uuid.UUID) error {
	return r.transition(walletID, models.WalletSuspended, models.WalletActive)
}

// Resume returns a suspended wallet to active.
func (r *Registry) Resume(walletID uuid.UUID) error {
	return r.transition(walletID, models.WalletActive, models.WalletSuspended)
}

// Archive tombstones a wallet. Archived wallets are read-only; the record
// is never physically deleted.
func (r *Registry) Archive(walletID uuid.UUID) error {
	return r.transition(walletID, models.WalletArchived, models.WalletActive, models.WalletSuspended)
}

func (r *Registry) transition(walletID uuid.UUID, to models.WalletState, from ...models.WalletState) error {
	res := r.db.Model(&models.Wallet{}).
		Where("id = ? AND state IN ?", walletID, from).
		Update("state", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		w, err := r.Get(walletID)
		if err != nil {
			return err
		}
		return errors.Wrapf(walleterr.ErrInvalidTransition, "wallet %s is %s, cannot become %s", walletID, w.State, to)
	}
	logger.Log.Infof("wallet %s transitioned to %s", walletID, to)
	return nil
}
