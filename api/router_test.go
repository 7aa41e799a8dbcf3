package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"custody-node/api/handlers"
	"custody-node/internal/approval"
	"custody-node/internal/chain"
	"custody-node/internal/events"
	"custody-node/internal/signing"
	"custody-node/internal/sigverify"
	"custody-node/internal/storage"
	"custody-node/internal/wallet"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.Open(sqlite.Open(filepath.Join(t.TempDir(), "custody.db")))
	require.NoError(t, err)

	chains := chain.NewRegistry()
	chains.Register(chain.NewDevConnector("devnet"))
	bus := events.NewBus()
	validator := sigverify.NewValidator()

	wallets := wallet.NewRegistry(db, chains, bus, 15)
	coordinator := approval.NewCoordinator(db, chains, validator, bus, time.Hour)
	gateway := signing.NewGateway(db, chains, validator, bus, 10*time.Minute)

	return SetupRouter(handlers.New(wallets, coordinator, gateway))
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestPing(t *testing.T) {
	router := newTestRouter(t)
	rec, out := doJSON(t, router, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", out["message"])
}

// End to end over HTTP: configure a 2-of-2 wallet, open a request, submit
// both signatures, broadcast.
func TestApprovalFlowOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	rec, w := doJSON(t, router, http.MethodPost, "/wallets", map[string]interface{}{
		"ownerId":            "owner",
		"chainId":            "devnet",
		"requiredSignatures": 2,
		"totalSigners":       2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	walletID := w["id"].(string)

	type signerKey struct {
		id     string
		priv   ed25519.PrivateKey
		pubHex string
	}
	keys := make([]signerKey, 2)
	for i := range keys {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		pubHex := hex.EncodeToString(pub)
		rec, s := doJSON(t, router, http.MethodPost, "/wallets/"+walletID+"/signers", map[string]interface{}{
			"kind":        "internal",
			"publicKey":   pubHex,
			"principalId": fmt.Sprintf("user-%d", i),
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		keys[i] = signerKey{id: s["id"].(string), priv: priv, pubHex: pubHex}
	}

	// The second signer filled the last slot; the wallet is active.
	rec, w = doJSON(t, router, http.MethodGet, "/wallets/"+walletID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", w["state"])
	assert.NotEmpty(t, w["address"])

	rec, reqBody := doJSON(t, router, http.MethodPost, "/requests", map[string]interface{}{
		"walletId":    walletID,
		"initiatorId": "owner",
		"kind":        "transfer",
		"payload":     hex.EncodeToString([]byte(`{"to":"0xabc","amount":"1"}`)),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	requestID := reqBody["id"].(string)
	// []byte fields round-trip through JSON as base64.
	rawData, err := base64.StdEncoding.DecodeString(reqBody["rawData"].(string))
	require.NoError(t, err)

	for i, k := range keys {
		sig := ed25519.Sign(k.priv, rawData)
		rec, got := doJSON(t, router, http.MethodPost, "/requests/"+requestID+"/signatures", map[string]interface{}{
			"signerId":  k.id,
			"signature": hex.EncodeToString(sig),
			"publicKey": k.pubHex,
		})
		require.Equal(t, http.StatusOK, rec.Code, "signer %d: %v", i, got)
	}

	rec, status := doJSON(t, router, http.MethodGet, "/requests/"+requestID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", status["state"])
	assert.Equal(t, float64(2), status["currentSignatures"])

	rec, done := doJSON(t, router, http.MethodPost, "/requests/"+requestID+"/broadcast", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", done["state"])
	assert.NotEmpty(t, done["txHash"])
}

func TestErrorMapping(t *testing.T) {
	router := newTestRouter(t)

	// Bad quorum bounds.
	rec, _ := doJSON(t, router, http.MethodPost, "/wallets", map[string]interface{}{
		"ownerId":            "owner",
		"chainId":            "devnet",
		"requiredSignatures": 3,
		"totalSigners":       2,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown wallet.
	rec, _ = doJSON(t, router, http.MethodGet, "/wallets/00000000-0000-0000-0000-000000000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Request against an inactive wallet.
	rec, w := doJSON(t, router, http.MethodPost, "/wallets", map[string]interface{}{
		"ownerId":            "owner",
		"chainId":            "devnet",
		"requiredSignatures": 1,
		"totalSigners":       2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, _ = doJSON(t, router, http.MethodPost, "/requests", map[string]interface{}{
		"walletId":    w["id"].(string),
		"initiatorId": "owner",
		"kind":        "transfer",
		"payload":     "00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}
