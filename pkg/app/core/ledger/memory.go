package ledger

import (
	"math/big"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/journal"
)

// The Mem* collaborators record every balance, allowance and approval change
// in the shared journal, so reverting a marketplace operation also reverts the
// value it moved. None of them lock; they are driven by the same single
// executor as the engine.

type MemMultiUnit struct {
	j        *journal.Journal
	balances map[common.Address]map[uint256.Int]uint64
	approved map[common.Address]map[common.Address]bool
}

func NewMemMultiUnit(j *journal.Journal) *MemMultiUnit {
	return &MemMultiUnit{
		j:        j,
		balances: make(map[common.Address]map[uint256.Int]uint64),
		approved: make(map[common.Address]map[common.Address]bool),
	}
}

func (m *MemMultiUnit) BalanceOf(owner common.Address, id uint256.Int) uint64 {
	return m.balances[owner][id]
}

func (m *MemMultiUnit) IsApprovedForAll(owner, operator common.Address) bool {
	return m.approved[owner][operator]
}

func (m *MemMultiUnit) SetApprovalForAll(owner, operator common.Address, ok bool) {
	ops, exists := m.approved[owner]
	if !exists {
		ops = make(map[common.Address]bool)
		m.approved[owner] = ops
	}
	prev := ops[operator]
	ops[operator] = ok
	journal.Record(m.j, func() { ops[operator] = prev })
}

func (m *MemMultiUnit) Mint(to common.Address, id uint256.Int, qty uint64) {
	m.setBalance(to, id, m.BalanceOf(to, id)+qty)
}

func (m *MemMultiUnit) SafeTransferFrom(operator, from, to common.Address, id uint256.Int, qty uint64) error {
	if qty == 0 {
		return ErrInvalidAmount
	}
	if operator != from && !m.IsApprovedForAll(from, operator) {
		return errors.Wrapf(ErrNotApproved, "%s is not an operator for %s", operator.Hex(), from.Hex())
	}
	bal := m.BalanceOf(from, id)
	if bal < qty {
		return errors.Wrapf(ErrInsufficientBalance, "%s holds %d of %s, need %d", from.Hex(), bal, id.Dec(), qty)
	}
	m.setBalance(from, id, bal-qty)
	m.setBalance(to, id, m.BalanceOf(to, id)+qty)
	return nil
}

func (m *MemMultiUnit) setBalance(owner common.Address, id uint256.Int, v uint64) {
	ids, ok := m.balances[owner]
	if !ok {
		ids = make(map[uint256.Int]uint64)
		m.balances[owner] = ids
	}
	prev, had := ids[id]
	if v == 0 {
		delete(ids, id)
	} else {
		ids[id] = v
	}
	journal.Record(m.j, func() {
		if had {
			ids[id] = prev
		} else {
			delete(ids, id)
		}
	})
}

type MemUnique struct {
	j         *journal.Journal
	owners    map[uint256.Int]common.Address
	approvals map[uint256.Int]common.Address
}

func NewMemUnique(j *journal.Journal) *MemUnique {
	return &MemUnique{
		j:         j,
		owners:    make(map[uint256.Int]common.Address),
		approvals: make(map[uint256.Int]common.Address),
	}
}

func (u *MemUnique) OwnerOf(id uint256.Int) common.Address {
	return u.owners[id]
}

func (u *MemUnique) GetApproved(id uint256.Int) common.Address {
	return u.approvals[id]
}

func (u *MemUnique) Mint(to common.Address, id uint256.Int) {
	u.setOwner(id, to)
}

// Approve lets spender move id on behalf of its owner.
func (u *MemUnique) Approve(owner, spender common.Address, id uint256.Int) error {
	if u.owners[id] != owner {
		return errors.Wrapf(ErrNotOwner, "%s does not own %s", owner.Hex(), id.Dec())
	}
	u.setApproval(id, spender)
	return nil
}

func (u *MemUnique) TransferFrom(operator, from, to common.Address, id uint256.Int) error {
	if u.owners[id] != from {
		return errors.Wrapf(ErrNotOwner, "%s does not own %s", from.Hex(), id.Dec())
	}
	if operator != from && u.approvals[id] != operator {
		return errors.Wrapf(ErrNotApproved, "%s is not approved for %s", operator.Hex(), id.Dec())
	}
	u.setApproval(id, common.Address{})
	u.setOwner(id, to)
	return nil
}

func (u *MemUnique) setOwner(id uint256.Int, owner common.Address) {
	prev, had := u.owners[id]
	u.owners[id] = owner
	journal.Record(u.j, func() {
		if had {
			u.owners[id] = prev
		} else {
			delete(u.owners, id)
		}
	})
}

func (u *MemUnique) setApproval(id uint256.Int, spender common.Address) {
	prev, had := u.approvals[id]
	if spender == (common.Address{}) {
		delete(u.approvals, id)
	} else {
		u.approvals[id] = spender
	}
	journal.Record(u.j, func() {
		if had {
			u.approvals[id] = prev
		} else {
			delete(u.approvals, id)
		}
	})
}

// balanceBook is the journaled balance map shared by MemToken and MemNative.
type balanceBook struct {
	j        *journal.Journal
	balances map[common.Address]*big.Int
}

func (b *balanceBook) balanceOf(owner common.Address) *big.Int {
	if v, ok := b.balances[owner]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (b *balanceBook) set(owner common.Address, v *big.Int) {
	prev, had := b.balances[owner]
	b.balances[owner] = new(big.Int).Set(v)
	journal.Record(b.j, func() {
		if had {
			b.balances[owner] = prev
		} else {
			delete(b.balances, owner)
		}
	})
}

func (b *balanceBook) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	bal := b.balanceOf(from)
	if bal.Cmp(amount) < 0 {
		return errors.Wrapf(ErrInsufficientBalance, "%s holds %s, need %s", from.Hex(), bal, amount)
	}
	b.set(from, bal.Sub(bal, amount))
	b.set(to, new(big.Int).Add(b.balanceOf(to), amount))
	return nil
}

type MemToken struct {
	book       balanceBook
	allowances map[common.Address]map[common.Address]*big.Int
}

func NewMemToken(j *journal.Journal) *MemToken {
	return &MemToken{
		book:       balanceBook{j: j, balances: make(map[common.Address]*big.Int)},
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *MemToken) BalanceOf(owner common.Address) *big.Int {
	return t.book.balanceOf(owner)
}

func (t *MemToken) Mint(to common.Address, amount *big.Int) {
	t.book.set(to, new(big.Int).Add(t.book.balanceOf(to), amount))
}

func (t *MemToken) Allowance(owner, spender common.Address) *big.Int {
	if v, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (t *MemToken) Approve(owner, spender common.Address, amount *big.Int) {
	t.setAllowance(owner, spender, amount)
}

func (t *MemToken) Transfer(from, to common.Address, amount *big.Int) error {
	return t.book.move(from, to, amount)
}

func (t *MemToken) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender != from {
		allowed := t.Allowance(from, spender)
		if allowed.Cmp(amount) < 0 {
			return errors.Wrapf(ErrInsufficientAllowance, "%s may spend %s of %s, need %s", spender.Hex(), allowed, from.Hex(), amount)
		}
		if err := t.book.move(from, to, amount); err != nil {
			return err
		}
		t.setAllowance(from, spender, allowed.Sub(allowed, amount))
		return nil
	}
	return t.book.move(from, to, amount)
}

func (t *MemToken) setAllowance(owner, spender common.Address, amount *big.Int) {
	spenders, ok := t.allowances[owner]
	if !ok {
		spenders = make(map[common.Address]*big.Int)
		t.allowances[owner] = spenders
	}
	prev, had := spenders[spender]
	spenders[spender] = new(big.Int).Set(amount)
	journal.Record(t.book.j, func() {
		if had {
			spenders[spender] = prev
		} else {
			delete(spenders, spender)
		}
	})
}

type MemNative struct {
	book balanceBook
}

func NewMemNative(j *journal.Journal) *MemNative {
	return &MemNative{book: balanceBook{j: j, balances: make(map[common.Address]*big.Int)}}
}

func (n *MemNative) BalanceOf(owner common.Address) *big.Int {
	return n.book.balanceOf(owner)
}

func (n *MemNative) Credit(to common.Address, amount *big.Int) {
	n.book.set(to, new(big.Int).Add(n.book.balanceOf(to), amount))
}

func (n *MemNative) Transfer(from, to common.Address, amount *big.Int) error {
	return n.book.move(from, to, amount)
}
