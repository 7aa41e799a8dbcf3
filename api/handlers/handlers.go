package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"custody-node/internal/approval"
	"custody-node/internal/signing"
	"custody-node/internal/wallet"
	"custody-node/internal/walleterr"
)

// Handlers bundles the services the API exposes.
type Handlers struct {
	Wallets     *wallet.Registry
	Coordinator *approval.Coordinator
	Gateway     *signing.Gateway
}

// New creates the handler set.
func New(wallets *wallet.Registry, coordinator *approval.Coordinator, gateway *signing.Gateway) *Handlers {
	return &Handlers{Wallets: wallets, Coordinator: coordinator, Gateway: gateway}
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, walleterr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, walleterr.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, walleterr.ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, walleterr.ErrDuplicateDecision),
		errors.Is(err, walleterr.ErrRequestNotPending),
		errors.Is(err, walleterr.ErrRequestExpired),
		errors.Is(err, walleterr.ErrRequestNotCancellable),
		errors.Is(err, walleterr.ErrWalletNotActive),
		errors.Is(err, walleterr.ErrWalletFull),
		errors.Is(err, walleterr.ErrSetupIncomplete),
		errors.Is(err, walleterr.ErrAssociationInactive),
		errors.Is(err, walleterr.ErrInvalidTransition),
		errors.Is(err, walleterr.ErrQuorumNotReached):
		return http.StatusConflict
	case errors.Is(err, walleterr.ErrSignatureInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, walleterr.ErrBroadcastFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
