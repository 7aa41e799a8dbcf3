package handlers

import (
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type createSigningBody struct {
	SignerID  uuid.UUID  `json:"signerId" binding:"required"`
	RequestID *uuid.UUID `json:"requestId"`
	Payload   string     `json:"payload" binding:"required"` // hex
}

// CreateSigningRequest opens a remote-signing request for a device signer.
func (h *Handlers) CreateSigningRequest(c *gin.Context) {
	var body createSigningBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := hex.DecodeString(body.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload must be hex"})
		return
	}
	req, err := h.Gateway.CreateSigningRequest(body.SignerID, body.RequestID, payload)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

type submitSigningBody struct {
	Signature string `json:"signature" binding:"required"` // hex
	PublicKey string `json:"publicKey" binding:"required"` // hex
}

// SubmitSigningSignature accepts the device's one signature submission.
func (h *Handlers) SubmitSigningSignature(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signing request id"})
		return
	}
	var body submitSigningBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	signature, err := hex.DecodeString(body.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature must be hex"})
		return
	}
	req, err := h.Gateway.SubmitSignature(requestID, signature, body.PublicKey)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// CancelSigningRequest withdraws a pending signing request.
func (h *Handlers) CancelSigningRequest(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signing request id"})
		return
	}
	if err := h.Gateway.Cancel(requestID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// SigningStatus reports a signing request's state with virtual expiry.
func (h *Handlers) SigningStatus(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signing request id"})
		return
	}
	status, err := h.Gateway.Status(requestID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
