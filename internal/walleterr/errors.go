// Package walleterr defines the error kinds shared by the wallet, approval
// and signing services. Callers classify failures with errors.Is; the API
// layer maps each kind to an HTTP status.
package walleterr

import "github.com/pkg/errors"

var (
	// ErrInvalidConfiguration signals bad M-of-N bounds at wallet creation.
	ErrInvalidConfiguration = errors.New("invalid wallet configuration")

	// ErrSetupIncomplete signals an activation attempt before every signer
	// slot is filled.
	ErrSetupIncomplete = errors.New("wallet setup incomplete")

	// ErrWalletNotActive signals an operation that requires an active wallet.
	ErrWalletNotActive = errors.New("wallet is not active")

	// ErrWalletFull signals a signer being added to a fully configured wallet.
	ErrWalletFull = errors.New("wallet signer slots are full")

	// ErrInvalidTransition signals a lifecycle transition the state machine
	// does not permit (e.g. suspending an archived wallet).
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrAssociationInactive signals a signing request against a deactivated
	// device association.
	ErrAssociationInactive = errors.New("signer association is inactive")

	// ErrRequestNotPending signals a decision against a request that is no
	// longer accepting decisions.
	ErrRequestNotPending = errors.New("request is not pending")

	// ErrRequestExpired signals a decision arriving after the request expiry.
	ErrRequestExpired = errors.New("request has expired")

	// ErrRequestNotCancellable signals a cancellation of a request that has
	// already left the pending state.
	ErrRequestNotCancellable = errors.New("request cannot be cancelled")

	// ErrDuplicateDecision signals a signer attempting a second decision on
	// the same request.
	ErrDuplicateDecision = errors.New("signer already decided on this request")

	// ErrSignatureInvalid signals a signature that failed cryptographic
	// verification against the request's raw signing data.
	ErrSignatureInvalid = errors.New("signature verification failed")

	// ErrQuorumNotReached signals a broadcast attempted before the required
	// number of approvals was collected.
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrUnauthorized signals an actor without the right to perform the
	// operation (e.g. cancellation by a non-initiator).
	ErrUnauthorized = errors.New("actor is not authorized")

	// ErrBroadcastFailure signals a chain submission failure after quorum.
	ErrBroadcastFailure = errors.New("transaction broadcast failed")

	// ErrNotFound signals a missing wallet, signer or request record.
	ErrNotFound = errors.New("record not found")
)
