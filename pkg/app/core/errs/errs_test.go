package errs

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	caller := common.HexToAddress("0xbb")
	err := errors.Wrap(Unauthorized("set_fee_rate", caller), "admin")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("wrapped UnauthorizedError should match ErrUnauthorized: %v", err)
	}
	var unauth *UnauthorizedError
	if !errors.As(err, &unauth) || unauth.Action != "set_fee_rate" || unauth.Caller != caller {
		t.Errorf("errors.As lost the diagnostics: %+v", unauth)
	}

	tf := &TransferFailedError{Leg: "asset", Reason: ReasonNotApproved}
	if !errors.Is(tf, ErrTransferFailed) {
		t.Error("TransferFailedError should match ErrTransferFailed")
	}
	if got := tf.Error(); got != "transfer failed (asset): not_approved" {
		t.Errorf("Error() = %q", got)
	}
}

func TestTransferFailedKeepsCause(t *testing.T) {
	errLowBalance := errors.New("insufficient balance")
	err := errors.Wrap(&TransferFailedError{Leg: "payment", Reason: ReasonInsufficientBalance, Err: errLowBalance}, "buy")
	if !errors.Is(err, ErrTransferFailed) {
		t.Error("should still match ErrTransferFailed")
	}
	if !errors.Is(err, errLowBalance) {
		t.Error("should match the underlying cause")
	}
	if Code(err) != "transfer_failed" {
		t.Errorf("Code = %q, want transfer_failed", Code(err))
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{errors.Wrapf(ErrDuplicateOffer, "asset id %d", 1), "duplicate_offer"},
		{ErrOfferNotFound, "offer_not_found"},
		{Unauthorized("delete_sell_offer", common.Address{}), "unauthorized"},
		{ErrInsufficientPayment, "insufficient_payment"},
		{&TransferFailedError{Leg: "payment", Reason: ReasonRejected}, "transfer_failed"},
		{ErrOracleUnavailable, "oracle_unavailable"},
		{errors.Mark(ErrUnknownRail, ErrInvalidArgument), "unknown_rail"},
		{ErrUnknownAssetContract, "unknown_asset_contract"},
		{ErrInvalidArgument, "invalid_argument"},
		{ErrBadSignature, "bad_signature"},
		{ErrStaleNonce, "stale_nonce"},
		{ErrDeadlineExceeded, "deadline_exceeded"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
