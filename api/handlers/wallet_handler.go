package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"custody-node/internal/storage/models"
	"custody-node/internal/wallet"
)

type createWalletRequest struct {
	OwnerID            string `json:"ownerId" binding:"required"`
	ChainID            string `json:"chainId" binding:"required"`
	RequiredSignatures int    `json:"requiredSignatures" binding:"required"`
	TotalSigners       int    `json:"totalSigners" binding:"required"`
}

// CreateWallet registers a new M-of-N wallet.
func (h *Handlers) CreateWallet(c *gin.Context) {
	var req createWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := h.Wallets.CreateWallet(req.OwnerID, req.ChainID, req.RequiredSignatures, req.TotalSigners)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// GetWallet returns a wallet by id.
func (h *Handlers) GetWallet(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return
	}
	w, err := h.Wallets.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type addSignerRequest struct {
	Kind        models.SignerKind `json:"kind" binding:"required"`
	PublicKey   string            `json:"publicKey" binding:"required"`
	PrincipalID string            `json:"principalId"`
	DeviceID    string            `json:"deviceId"`
	Label       string            `json:"label"`
}

// AddSigner adds a signer to a wallet. When the last slot fills, the
// wallet auto-activates.
func (h *Handlers) AddSigner(c *gin.Context) {
	walletID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return
	}
	var req addSignerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var spec wallet.SignerSpec
	switch req.Kind {
	case models.SignerInternal:
		spec = wallet.InternalSigner(req.PrincipalID, req.PublicKey)
	case models.SignerHardware:
		spec = wallet.HardwareSigner(req.DeviceID, req.PublicKey)
	case models.SignerExternal:
		spec = wallet.ExternalSigner(req.PublicKey, req.Label)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be internal, external or hardware"})
		return
	}

	signer, err := h.Wallets.AddSigner(walletID, spec)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, signer)
}

// ListSigners returns a wallet's active signers in display order.
func (h *Handlers) ListSigners(c *gin.Context) {
	walletID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return
	}
	signers, err := h.Wallets.ActiveSigners(walletID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signers": signers})
}

// ActivateWallet forces activation of a fully configured wallet.
func (h *Handlers) ActivateWallet(c *gin.Context) {
	h.walletTransition(c, func(id uuid.UUID) error {
		_, err := h.Wallets.Activate(id)
		return err
	})
}

// SuspendWallet pauses an active wallet.
func (h *Handlers) SuspendWallet(c *gin.Context) {
	h.walletTransition(c, h.Wallets.Suspend)
}

// ResumeWallet returns a suspended wallet to active.
func (h *Handlers) ResumeWallet(c *gin.Context) {
	h.walletTransition(c, h.Wallets.Resume)
}

// ArchiveWallet tombstones a wallet.
func (h *Handlers) ArchiveWallet(c *gin.Context) {
	h.walletTransition(c, h.Wallets.Archive)
}

func (h *Handlers) walletTransition(c *gin.Context, fn func(uuid.UUID) error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet id"})
		return
	}
	if err := fn(id); err != nil {
		fail(c, err)
		return
	}
	w, err := h.Wallets.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

// DeactivateSigner removes a signer from the active set.
func (h *Handlers) DeactivateSigner(c *gin.Context) {
	h.signerFlip(c, h.Wallets.DeactivateSigner)
}

// ReactivateSigner restores a deactivated signer.
func (h *Handlers) ReactivateSigner(c *gin.Context) {
	h.signerFlip(c, h.Wallets.ReactivateSigner)
}

func (h *Handlers) signerFlip(c *gin.Context, fn func(uuid.UUID) error) {
	id, err := uuid.Parse(c.Param("signerId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signer id"})
		return
	}
	if err := fn(id); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
