package handlers

import (
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"custody-node/internal/storage/models"
)

type createRequestBody struct {
	WalletID    uuid.UUID          `json:"walletId" binding:"required"`
	InitiatorID string             `json:"initiatorId" binding:"required"`
	Kind        models.RequestKind `json:"kind" binding:"required"`
	Payload     string             `json:"payload" binding:"required"` // hex
}

// CreateRequest opens an approval request.
func (h *Handlers) CreateRequest(c *gin.Context) {
	var body createRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := hex.DecodeString(body.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be hex"})
		return
	}
	req, err := h.Coordinator.CreateRequest(body.WalletID, body.InitiatorID, body.Kind, payload)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

type submitSignatureBody struct {
	SignerID  uuid.UUID `json:"signerId" binding:"required"`
	Signature string    `json:"signature" binding:"required"` // hex
	PublicKey string    `json:"publicKey" binding:"required"` // hex
}

// SubmitSignature records one signer's approval on a request.
func (h *Handlers) SubmitSignature(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	var body submitSignatureBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	signature, err := hex.DecodeString(body.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature must be hex"})
		return
	}
	req, err := h.Coordinator.SubmitSignature(requestID, body.SignerID, signature, body.PublicKey)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type rejectBody struct {
	SignerID uuid.UUID `json:"signerId" binding:"required"`
	Reason   string    `json:"reason"`
}

// RejectRequest records a terminal rejection for one signer.
func (h *Handlers) RejectRequest(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	var body rejectBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req, err := h.Coordinator.RejectRequest(requestID, body.SignerID, body.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type cancelBody struct {
	ActorID string `json:"actorId" binding:"required"`
}

// CancelRequest withdraws a pending request.
func (h *Handlers) CancelRequest(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	var body cancelBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Coordinator.CancelRequest(requestID, body.ActorID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// BroadcastRequest hands a quorum-satisfied request to the chain.
func (h *Handlers) BroadcastRequest(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	req, err := h.Coordinator.BroadcastTransaction(c.Request.Context(), requestID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// RequestStatus returns the quorum progress projection.
func (h *Handlers) RequestStatus(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request id"})
		return
	}
	status, err := h.Coordinator.GetApprovalStatus(requestID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// PendingForSigner lists every request awaiting a decision from the
// principal.
func (h *Handlers) PendingForSigner(c *gin.Context) {
	principal := c.Param("principalId")
	pending, err := h.Coordinator.PendingRequestsForSigner(principal)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}
