// Package ledger declares the external collaborators the marketplace moves
// value through (asset registries, fungible tokens, the native coin) and
// provides journaled in-memory implementations for tests and devnet.
package ledger

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotApproved           = errors.New("operator not approved")
	ErrNotOwner              = errors.New("from is not the owner")
	ErrInvalidAmount         = errors.New("invalid amount")
)

// MultiUnitRegistry holds fungible quantities per asset id (ERC-1155 style).
type MultiUnitRegistry interface {
	SafeTransferFrom(operator, from, to common.Address, id uint256.Int, qty uint64) error
	IsApprovedForAll(owner, operator common.Address) bool
	BalanceOf(owner common.Address, id uint256.Int) uint64
}

// UniqueRegistry holds one owner per asset id (ERC-721 style).
type UniqueRegistry interface {
	TransferFrom(operator, from, to common.Address, id uint256.Int) error
	GetApproved(id uint256.Int) common.Address
	OwnerOf(id uint256.Int) common.Address
}

// Token is a fungible payment token (ERC-20 style).
type Token interface {
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
	Transfer(from, to common.Address, amount *big.Int) error
	Allowance(owner, spender common.Address) *big.Int
	BalanceOf(owner common.Address) *big.Int
}

// NativeBank moves the chain's native coin.
type NativeBank interface {
	Transfer(from, to common.Address, amount *big.Int) error
	BalanceOf(owner common.Address) *big.Int
}

// Registries resolves contract addresses to collaborators.
type Registries struct {
	Native NativeBank

	multi  map[common.Address]MultiUnitRegistry
	unique map[common.Address]UniqueRegistry
	tokens map[common.Address]Token
}

func NewRegistries(native NativeBank) *Registries {
	return &Registries{
		Native: native,
		multi:  make(map[common.Address]MultiUnitRegistry),
		unique: make(map[common.Address]UniqueRegistry),
		tokens: make(map[common.Address]Token),
	}
}

func (r *Registries) RegisterMultiUnit(addr common.Address, reg MultiUnitRegistry) {
	r.multi[addr] = reg
}

func (r *Registries) RegisterUnique(addr common.Address, reg UniqueRegistry) {
	r.unique[addr] = reg
}

func (r *Registries) RegisterToken(addr common.Address, tok Token) {
	r.tokens[addr] = tok
}

func (r *Registries) MultiUnit(addr common.Address) (MultiUnitRegistry, error) {
	reg, ok := r.multi[addr]
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnknownAssetContract, "no multi-unit registry at %s", addr.Hex())
	}
	return reg, nil
}

func (r *Registries) Unique(addr common.Address) (UniqueRegistry, error) {
	reg, ok := r.unique[addr]
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnknownAssetContract, "no unique registry at %s", addr.Hex())
	}
	return reg, nil
}

func (r *Registries) Token(addr common.Address) (Token, error) {
	tok, ok := r.tokens[addr]
	if !ok {
		return nil, errors.Wrapf(errs.ErrUnknownRail, "no token at %s", addr.Hex())
	}
	return tok, nil
}
