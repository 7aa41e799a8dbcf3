package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"custody-node/api/handlers"
)

// SetupRouter wires every inbound operation the core exposes.
func SetupRouter(h *handlers.Handlers) *gin.Engine {
	router := gin.Default()

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	wallets := router.Group("/wallets")
	{
		wallets.POST("", h.CreateWallet)
		wallets.GET("/:id", h.GetWallet)
		wallets.POST("/:id/signers", h.AddSigner)
		wallets.GET("/:id/signers", h.ListSigners)
		wallets.POST("/:id/activate", h.ActivateWallet)
		wallets.POST("/:id/suspend", h.SuspendWallet)
		wallets.POST("/:id/resume", h.ResumeWallet)
		wallets.POST("/:id/archive", h.ArchiveWallet)
	}

	signers := router.Group("/signers")
	{
		signers.POST("/:signerId/deactivate", h.DeactivateSigner)
		signers.POST("/:signerId/reactivate", h.ReactivateSigner)
	}

	requests := router.Group("/requests")
	{
		requests.POST("", h.CreateRequest)
		requests.GET("/:id/status", h.RequestStatus)
		requests.POST("/:id/signatures", h.SubmitSignature)
		requests.POST("/:id/reject", h.RejectRequest)
		requests.POST("/:id/cancel", h.CancelRequest)
		requests.POST("/:id/broadcast", h.BroadcastRequest)
	}
	router.GET("/principals/:principalId/pending", h.PendingForSigner)

	signing := router.Group("/signing-requests")
	{
		signing.POST("", h.CreateSigningRequest)
		signing.GET("/:id/status", h.SigningStatus)
		signing.POST("/:id/signature", h.SubmitSigningSignature)
		signing.POST("/:id/cancel", h.CancelSigningRequest)
	}

	return router
}
