// Package errs defines the marketplace failure taxonomy.
//
// Callers match failures with errors.Is against the sentinels below. The typed
// errors carry diagnostics (the rejected action, the failing transfer leg) and
// unwrap to their sentinel.
package errs

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrDuplicateOffer       = errors.New("a sell offer with this ID already exists")
	ErrOfferNotFound        = errors.New("sell offer not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientPayment  = errors.New("insufficient payment")
	ErrTransferFailed       = errors.New("transfer failed")
	ErrOracleUnavailable    = errors.New("price oracle unavailable")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrUnknownRail          = errors.New("unknown payment rail")
	ErrUnknownAssetContract = errors.New("unknown asset contract")

	// request envelope failures, raised before the engine is reached
	ErrBadSignature     = errors.New("bad signature")
	ErrStaleNonce       = errors.New("nonce already used")
	ErrDeadlineExceeded = errors.New("request deadline passed")
)

// UnauthorizedError names the action a caller was refused.
type UnauthorizedError struct {
	Action string
	Caller common.Address
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("unauthorized: %s rejected for caller %s", e.Action, e.Caller.Hex())
}

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

// Unauthorized builds an UnauthorizedError for action.
func Unauthorized(action string, caller common.Address) error {
	return &UnauthorizedError{Action: action, Caller: caller}
}

// Reason classifies why an external transfer failed.
type Reason string

const (
	ReasonInsufficientBalance   Reason = "insufficient_balance"
	ReasonInsufficientAllowance Reason = "insufficient_allowance"
	ReasonNotApproved           Reason = "not_approved"
	ReasonRejected              Reason = "rejected"
)

// TransferFailedError reports a failed payment or asset movement.
// Leg is one of "payment", "fee", "proceeds", "refund", "asset".
type TransferFailedError struct {
	Leg    string
	Reason Reason
	Err    error
}

func (e *TransferFailedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transfer failed (%s): %s", e.Leg, e.Reason)
	}
	return fmt.Sprintf("transfer failed (%s): %s: %v", e.Leg, e.Reason, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *TransferFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransferFailed}
	}
	return []error{ErrTransferFailed, e.Err}
}

// Code maps an error to a stable snake_case identifier for metrics labels and
// API responses.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDuplicateOffer):
		return "duplicate_offer"
	case errors.Is(err, ErrOfferNotFound):
		return "offer_not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrOracleUnavailable):
		return "oracle_unavailable"
	case errors.Is(err, ErrUnknownRail):
		return "unknown_rail"
	case errors.Is(err, ErrUnknownAssetContract):
		return "unknown_asset_contract"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrStaleNonce):
		return "stale_nonce"
	case errors.Is(err, ErrDeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "internal"
	}
}
