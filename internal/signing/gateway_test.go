package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"custody-node/internal/chain"
	"custody-node/internal/events"
	"custody-node/internal/sigverify"
	"custody-node/internal/storage"
	"custody-node/internal/storage/models"
	"custody-node/internal/wallet"
	"custody-node/internal/walleterr"
)

type gatewayEnv struct {
	gateway *Gateway
	wallets *wallet.Registry
	bus     *events.Bus
	device  *models.Signer
	priv    ed25519.PrivateKey
	pubHex  string
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()

	db, err := storage.Open(sqlite.Open(filepath.Join(t.TempDir(), "custody.db")))
	require.NoError(t, err)

	chains := chain.NewRegistry()
	chains.Register(chain.NewDevConnector("devnet"))
	bus := events.NewBus()

	wallets := wallet.NewRegistry(db, chains, bus, 15)
	w, err := wallets.CreateWallet("owner", "devnet", 1, 1)
	require.NoError(t, err)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pubHex := hex.EncodeToString(pub)
	device, err := wallets.AddSigner(w.ID, wallet.HardwareSigner("ledger-1", pubHex))
	require.NoError(t, err)

	gateway := NewGateway(db, chains, sigverify.NewValidator(), bus, 10*time.Minute)
	return &gatewayEnv{gateway: gateway, wallets: wallets, bus: bus, device: device, priv: priv, pubHex: pubHex}
}

func TestCreateSigningRequest(t *testing.T) {
	env := newGatewayEnv(t)

	req, err := env.gateway.CreateSigningRequest(env.device.ID, nil, []byte(`{"op":"attest"}`))
	require.NoError(t, err)
	assert.Equal(t, models.SigningPending, req.State)
	assert.NotEmpty(t, req.RawData)
	assert.False(t, req.ExpiresAt.IsZero())
	assert.Nil(t, req.CompletedAt)
}

func TestCreateSigningRequestInactiveAssociation(t *testing.T) {
	env := newGatewayEnv(t)
	require.NoError(t, env.wallets.DeactivateSigner(env.device.ID))

	_, err := env.gateway.CreateSigningRequest(env.device.ID, nil, []byte("{}"))
	assert.ErrorIs(t, err, walleterr.ErrAssociationInactive)
}

func TestSubmitSignatureOnce(t *testing.T) {
	env := newGatewayEnv(t)
	req, err := env.gateway.CreateSigningRequest(env.device.ID, nil, []byte("{}"))
	require.NoError(t, err)

	sig := ed25519.Sign(env.priv, req.RawData)
	got, err := env.gateway.SubmitSignature(req.ID, sig, env.pubHex)
	require.NoError(t, err)
	assert.Equal(t, models.SigningCompleted, got.State)
	assert.Equal(t, sig, got.Signature)
	require.NotNil(t, got.DevicePublicKey)
	assert.Equal(t, env.pubHex, *got.DevicePublicKey)
	require.NotNil(t, got.CompletedAt)

	// Exactly one submission is accepted.
	_, err = env.gateway.SubmitSignature(req.ID, sig, env.pubHex)
	assert.ErrorIs(t, err, walleterr.ErrRequestNotPending)
}

func TestSubmitInvalidSignature(t *testing.T) {
	env := newGatewayEnv(t)
	req, err := env.gateway.CreateSigningRequest(env.device.ID, nil, []byte("{}"))
	require.NoError(t, err)

	_, err = env.gateway.SubmitSignature(req.ID, []byte("garbage"), env.pubHex)
	assert.ErrorIs(t, err, walleterr.ErrSignatureInvalid)

	// The request stays pending for a corrected retry.
	got, err := env.gateway.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SigningPending, got.State)
}

func TestCancelSigningRequest(t *testing.T) {
	env := newGatewayEnv(t)
	req, err := env.gateway.CreateSigningRequest(env.device.ID, nil, []byte("{}"))
	require.NoError(t, err)

	require.NoError(t, env.gateway.Cancel(req.ID))

	got, err := env.gateway.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SigningCancelled, got.State)

	// Cancellation and submission are mutually exclusive.
	sig := ed25519.Sign(env.priv, req.RawData)
	_, err = env.gateway.SubmitSignature(req.ID, sig, env.pubHex)
	assert.ErrorIs(t, err, walleterr.ErrRequestNotPending)
	assert.ErrorIs(t, env.gateway.Cancel(req.ID), walleterr.ErrRequestNotCancellable)
}

func TestVirtualExpiryStatus(t *testing.T) {
	env := newGatewayEnv(t)
	req, err := env.gateway.CreateSigningRequest(env.device.ID, nil, []byte("{}"))
	require.NoError(t, err)

	status, err := env.gateway.Status(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SigningPending, status.State)
	assert.False(t, status.IsExpired)

	// Past the expiry, status reports expired before any sweep has run.
	env.gateway.now = func() time.Time { return req.ExpiresAt.Add(time.Second) }
	status, err = env.gateway.Status(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SigningExpired, status.State)
	assert.True(t, status.IsExpired)

	// The stored row is still pending until a submission or sweep.
	got, err := env.gateway.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SigningPending, got.State)
}

func TestSubmitAfterExpiry(t *testing.T) {
	env := newGatewayEnv(t)
	req, err := env.gateway.CreateSigningRequest(env.device.ID, nil, []byte("{}"))
	require.NoError(t, err)

	env.gateway.now = func() time.Time { return req.ExpiresAt.Add(time.Second) }

	sig := ed25519.Sign(env.priv, req.RawData)
	_, err = env.gateway.SubmitSignature(req.ID, sig, env.pubHex)
	assert.ErrorIs(t, err, walleterr.ErrRequestExpired)

	// The failed submission transitioned the record; the sweep is a no-op.
	n, err := env.gateway.ExpireOldRequests()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	got, err := env.gateway.Get(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SigningExpired, got.State)
}

func TestExpireOldSigningRequestsIdempotent(t *testing.T) {
	env := newGatewayEnv(t)
	req, err := env.gateway.CreateSigningRequest(env.device.ID, nil, []byte("{}"))
	require.NoError(t, err)

	env.gateway.now = func() time.Time { return req.ExpiresAt.Add(time.Minute) }

	n, err := env.gateway.ExpireOldRequests()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = env.gateway.ExpireOldRequests()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// Every gateway event must identify the signer and wallet it concerns;
// subscribers route on those fields.
func TestGatewayEventsCarrySignerAndWallet(t *testing.T) {
	env := newGatewayEnv(t)

	var got []events.Event
	env.bus.Subscribe(func(e events.Event) { got = append(got, e) })

	req, err := env.gateway.CreateSigningRequest(env.device.ID, nil, []byte("{}"))
	require.NoError(t, err)
	require.NoError(t, env.gateway.Cancel(req.ID))

	expired, err := env.gateway.CreateSigningRequest(env.device.ID, nil, []byte("{}"))
	require.NoError(t, err)
	env.gateway.now = func() time.Time { return expired.ExpiresAt.Add(time.Second) }
	sig := ed25519.Sign(env.priv, expired.RawData)
	_, err = env.gateway.SubmitSignature(expired.ID, sig, env.pubHex)
	require.ErrorIs(t, err, walleterr.ErrRequestExpired)

	types := make(map[events.Type]events.Event, len(got))
	for _, e := range got {
		types[e.Type] = e
	}
	for _, typ := range []events.Type{events.SigningCreated, events.SigningCancelled, events.SigningExpired} {
		e, ok := types[typ]
		require.True(t, ok, "missing %s event", typ)
		assert.Equal(t, env.device.ID, e.SignerID, "%s", typ)
		assert.Equal(t, env.device.WalletID, e.WalletID, "%s", typ)
	}
}

func TestSigningRequestBoundToApprovalRawData(t *testing.T) {
	env := newGatewayEnv(t)

	// Seed an approval request row directly; the gateway must hand the
	// device that exact raw data.
	approval := &models.ApprovalRequest{
		ID:                 uuid.New(),
		WalletID:           env.device.WalletID,
		InitiatorID:        "owner",
		Kind:               models.RequestTransfer,
		Payload:            []byte(`{"to":"0xabc"}`),
		RawData:            []byte("canonical-bytes-to-sign"),
		RequiredSignatures: 1,
		ExpiresAt:          time.Now().Add(time.Hour),
		State:              models.RequestPending,
	}
	db := env.gateway.db
	require.NoError(t, db.Create(approval).Error)

	req, err := env.gateway.CreateSigningRequest(env.device.ID, &approval.ID, []byte(`{"to":"0xabc"}`))
	require.NoError(t, err)
	assert.Equal(t, approval.RawData, req.RawData)
	require.NotNil(t, req.RequestID)
	assert.Equal(t, approval.ID, *req.RequestID)
}
