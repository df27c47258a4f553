package ledger

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/journal"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

func TestMemMultiUnitTransfer(t *testing.T) {
	j := journal.New()
	reg := NewMemMultiUnit(j)
	id := *uint256.NewInt(65678)
	reg.Mint(alice, id, 10)

	if err := reg.SafeTransferFrom(operator, alice, bob, id, 4); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}

	reg.SetApprovalForAll(alice, operator, true)
	if err := reg.SafeTransferFrom(operator, alice, bob, id, 11); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := reg.SafeTransferFrom(operator, alice, bob, id, 4); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if got := reg.BalanceOf(alice, id); got != 6 {
		t.Errorf("alice balance = %d, want 6", got)
	}
	if got := reg.BalanceOf(bob, id); got != 4 {
		t.Errorf("bob balance = %d, want 4", got)
	}
}

func TestMemUniqueApprovalClearedOnTransfer(t *testing.T) {
	reg := NewMemUnique(journal.New())
	id := *uint256.NewInt(7)
	reg.Mint(alice, id)

	if err := reg.Approve(bob, operator, id); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := reg.Approve(alice, operator, id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := reg.TransferFrom(operator, alice, bob, id); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if reg.OwnerOf(id) != bob {
		t.Errorf("owner = %s, want bob", reg.OwnerOf(id).Hex())
	}
	if reg.GetApproved(id) != (common.Address{}) {
		t.Errorf("approval should be cleared after transfer")
	}
	if err := reg.TransferFrom(operator, bob, alice, id); !errors.Is(err, ErrNotApproved) {
		t.Errorf("expected ErrNotApproved, got %v", err)
	}
}

func TestMemTokenAllowance(t *testing.T) {
	tok := NewMemToken(journal.New())
	tok.Mint(alice, big.NewInt(100))
	tok.Approve(alice, operator, big.NewInt(30))

	if err := tok.TransferFrom(operator, alice, bob, big.NewInt(31)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := tok.TransferFrom(operator, alice, bob, big.NewInt(30)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if got := tok.Allowance(alice, operator); got.Sign() != 0 {
		t.Errorf("allowance = %s, want 0", got)
	}
	if got := tok.BalanceOf(bob); got.Cmp(big.NewInt(30)) != 0 {
		t.Errorf("bob balance = %s, want 30", got)
	}
	if err := tok.Transfer(bob, alice, big.NewInt(31)); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestRevertRestoresBalances(t *testing.T) {
	j := journal.New()
	bank := NewMemNative(j)
	multi := NewMemMultiUnit(j)
	id := *uint256.NewInt(1)
	bank.Credit(alice, big.NewInt(50))
	multi.Mint(bob, id, 1)

	rev := j.Snapshot()
	if err := bank.Transfer(alice, bob, big.NewInt(20)); err != nil {
		t.Fatalf("native transfer: %v", err)
	}
	if err := multi.SafeTransferFrom(bob, bob, alice, id, 1); err != nil {
		t.Fatalf("asset transfer: %v", err)
	}
	j.RevertToSnapshot(rev)

	if got := bank.BalanceOf(alice); got.Cmp(big.NewInt(50)) != 0 {
		t.Errorf("alice native = %s, want 50", got)
	}
	if got := bank.BalanceOf(bob); got.Sign() != 0 {
		t.Errorf("bob native = %s, want 0", got)
	}
	if multi.BalanceOf(bob, id) != 1 || multi.BalanceOf(alice, id) != 0 {
		t.Errorf("asset balances not restored")
	}
}

func TestRegistriesUnknownContract(t *testing.T) {
	r := NewRegistries(NewMemNative(nil))
	if _, err := r.MultiUnit(alice); !errors.Is(err, errs.ErrUnknownAssetContract) {
		t.Errorf("expected ErrUnknownAssetContract, got %v", err)
	}
	if _, err := r.Unique(alice); !errors.Is(err, errs.ErrUnknownAssetContract) {
		t.Errorf("expected ErrUnknownAssetContract, got %v", err)
	}
	if _, err := r.Token(alice); !errors.Is(err, errs.ErrUnknownRail) {
		t.Errorf("expected ErrUnknownRail, got %v", err)
	}
}
