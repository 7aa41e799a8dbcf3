package wallet

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"custody-node/internal/chain"
	"custody-node/internal/events"
	"custody-node/internal/storage"
	"custody-node/internal/storage/models"
	"custody-node/internal/walleterr"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := storage.Open(sqlite.Open(filepath.Join(t.TempDir(), "custody.db")))
	require.NoError(t, err)
	return db
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	chains := chain.NewRegistry()
	chains.Register(chain.NewDevConnector("devnet"))
	return NewRegistry(openTestDB(t), chains, events.NewBus(), 15)
}

func addInternalSigners(t *testing.T, r *Registry, w *models.Wallet, n int) []*models.Signer {
	t.Helper()
	signers := make([]*models.Signer, n)
	for i := 0; i < n; i++ {
		s, err := r.AddSigner(w.ID, InternalSigner(
			fmt.Sprintf("user-%d", i),
			fmt.Sprintf("%064x", i+1),
		))
		require.NoError(t, err)
		signers[i] = s
	}
	return signers
}

func TestCreateWalletBounds(t *testing.T) {
	r := newTestRegistry(t)

	cases := []struct {
		name     string
		required int
		total    int
	}{
		{"required zero", 0, 3},
		{"required negative", -1, 3},
		{"required above total", 3, 2},
		{"total above max", 2, 16},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.CreateWallet("owner", "devnet", tc.required, tc.total)
			assert.ErrorIs(t, err, walleterr.ErrInvalidConfiguration)
		})
	}

	w, err := r.CreateWallet("owner", "devnet", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, models.WalletPendingSetup, w.State)
	assert.Equal(t, 2, w.RequiredSignatures)
	assert.Equal(t, 3, w.TotalSigners)
	assert.Nil(t, w.Address)
}

func TestCreateWalletUnknownChain(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.CreateWallet("owner", "no-such-chain", 1, 1)
	assert.ErrorIs(t, err, walleterr.ErrNotFound)
}

func TestAddSignerFillsAndActivates(t *testing.T) {
	r := newTestRegistry(t)
	w, err := r.CreateWallet("owner", "devnet", 2, 3)
	require.NoError(t, err)

	signers := addInternalSigners(t, r, w, 2)
	assert.Equal(t, 1, signers[0].OrderIndex)
	assert.Equal(t, 2, signers[1].OrderIndex)

	// Not full yet: explicit activation must fail.
	_, err = r.Activate(w.ID)
	assert.ErrorIs(t, err, walleterr.ErrSetupIncomplete)

	got, err := r.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WalletAwaitingSigners, got.State)
	assert.Equal(t, 2, got.ActiveSigners)

	// Third signer fills the last slot and auto-activates.
	_, err = r.AddSigner(w.ID, HardwareSigner("device-1", fmt.Sprintf("%064x", 99)))
	require.NoError(t, err)

	got, err = r.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WalletActive, got.State)
	require.NotNil(t, got.Address)
	assert.NotEmpty(t, *got.Address)
}

func TestAddSignerWalletFull(t *testing.T) {
	r := newTestRegistry(t)
	w, err := r.CreateWallet("owner", "devnet", 1, 2)
	require.NoError(t, err)
	addInternalSigners(t, r, w, 2)

	_, err = r.AddSigner(w.ID, ExternalSigner(fmt.Sprintf("%064x", 50), "late"))
	assert.ErrorIs(t, err, walleterr.ErrWalletFull)
}

func TestAddressDerivedExactlyOnce(t *testing.T) {
	r := newTestRegistry(t)
	w, err := r.CreateWallet("owner", "devnet", 1, 1)
	require.NoError(t, err)
	addInternalSigners(t, r, w, 1)

	got, err := r.Get(w.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Address)
	address := *got.Address

	// Suspend and resume: the address must not change.
	require.NoError(t, r.Suspend(w.ID))
	require.NoError(t, r.Resume(w.ID))

	got, err = r.Get(w.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Address)
	assert.Equal(t, address, *got.Address)
}

func TestLifecycleTransitions(t *testing.T) {
	r := newTestRegistry(t)
	w, err := r.CreateWallet("owner", "devnet", 1, 1)
	require.NoError(t, err)
	addInternalSigners(t, r, w, 1)

	// active -> suspended -> active -> archived
	require.NoError(t, r.Suspend(w.ID))
	assert.ErrorIs(t, r.Suspend(w.ID), walleterr.ErrInvalidTransition)
	require.NoError(t, r.Resume(w.ID))
	require.NoError(t, r.Archive(w.ID))

	// archived is terminal
	assert.ErrorIs(t, r.Suspend(w.ID), walleterr.ErrInvalidTransition)
	assert.ErrorIs(t, r.Resume(w.ID), walleterr.ErrInvalidTransition)
	assert.ErrorIs(t, r.Archive(w.ID), walleterr.ErrInvalidTransition)

	// the record is tombstoned, not deleted
	got, err := r.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WalletArchived, got.State)
}

func TestSignerSpecValidation(t *testing.T) {
	r := newTestRegistry(t)
	w, err := r.CreateWallet("owner", "devnet", 1, 2)
	require.NoError(t, err)

	_, err = r.AddSigner(w.ID, InternalSigner("", "aa"))
	assert.ErrorIs(t, err, walleterr.ErrInvalidConfiguration)

	_, err = r.AddSigner(w.ID, HardwareSigner("", "aa"))
	assert.ErrorIs(t, err, walleterr.ErrInvalidConfiguration)

	_, err = r.AddSigner(w.ID, InternalSigner("alice", ""))
	assert.ErrorIs(t, err, walleterr.ErrInvalidConfiguration)
}

func TestDeactivateReactivate(t *testing.T) {
	r := newTestRegistry(t)
	w, err := r.CreateWallet("owner", "devnet", 1, 2)
	require.NoError(t, err)
	signers := addInternalSigners(t, r, w, 2)

	require.NoError(t, r.DeactivateSigner(signers[0].ID))

	active, err := r.ActiveSigners(w.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, signers[1].ID, active[0].ID)

	ok, err := r.IsSigner(w.ID, "user-0")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = r.IsSigner(w.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, r.ReactivateSigner(signers[0].ID))
	active, err = r.ActiveSigners(w.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRepeatedFlipAdjustsCounterOnce(t *testing.T) {
	r := newTestRegistry(t)
	w, err := r.CreateWallet("owner", "devnet", 1, 3)
	require.NoError(t, err)
	signers := addInternalSigners(t, r, w, 3)

	require.NoError(t, r.DeactivateSigner(signers[0].ID))
	require.NoError(t, r.DeactivateSigner(signers[0].ID))
	require.NoError(t, r.DeactivateSigner(signers[0].ID))

	got, err := r.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ActiveSigners)

	require.NoError(t, r.ReactivateSigner(signers[0].ID))
	require.NoError(t, r.ReactivateSigner(signers[0].ID))

	got, err = r.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ActiveSigners)
}

// The active_signers counter must stay equal to the count of active
// signer rows no matter how flips on the same signer interleave: only the
// caller whose conditional row update lands owns the counter adjustment.
func TestConcurrentFlipsKeepCounterConsistent(t *testing.T) {
	r := newTestRegistry(t)
	sqlDB, err := r.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	w, err := r.CreateWallet("owner", "devnet", 1, 3)
	require.NoError(t, err)
	signers := addInternalSigners(t, r, w, 3)

	const callers = 4
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, r.DeactivateSigner(signers[0].ID))
		}()
	}
	wg.Wait()

	var activeRows int64
	require.NoError(t, r.db.Model(&models.Signer{}).
		Where("wallet_id = ? AND active = ?", w.ID, true).Count(&activeRows).Error)
	got, err := r.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), activeRows)
	assert.Equal(t, 2, got.ActiveSigners)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, r.ReactivateSigner(signers[0].ID))
		}()
	}
	wg.Wait()

	require.NoError(t, r.db.Model(&models.Signer{}).
		Where("wallet_id = ? AND active = ?", w.ID, true).Count(&activeRows).Error)
	got, err = r.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), activeRows)
	assert.Equal(t, 3, got.ActiveSigners)
}
