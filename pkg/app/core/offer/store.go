package offer

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/errs"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/journal"
)

// Store is the in-memory offer table. Mutations are journaled and tracked as
// dirty until the engine flushes them to persistent storage.
type Store struct {
	j      *journal.Journal
	offers map[uint256.Int]SellOffer
	dirty  map[uint256.Int]struct{}
}

func NewStore(j *journal.Journal) *Store {
	return &Store{
		j:      j,
		offers: make(map[uint256.Int]SellOffer),
		dirty:  make(map[uint256.Int]struct{}),
	}
}

// Restore loads offers read back from storage. Restored offers are neither
// journaled nor marked dirty.
func (s *Store) Restore(offers []SellOffer) {
	for _, o := range offers {
		s.offers[o.AssetID] = o
	}
}

func (s *Store) Exists(id uint256.Int) bool {
	_, ok := s.offers[id]
	return ok
}

func (s *Store) Create(o SellOffer) error {
	if s.Exists(o.AssetID) {
		return errors.Wrapf(errs.ErrDuplicateOffer, "asset id %s", o.AssetID.Dec())
	}
	s.put(o.AssetID, &o)
	return nil
}

func (s *Store) Delete(id uint256.Int, caller common.Address) error {
	o, ok := s.offers[id]
	if !ok {
		return errors.Wrapf(errs.ErrOfferNotFound, "asset id %s", id.Dec())
	}
	if o.Seller != caller {
		return errs.Unauthorized("delete_sell_offer", caller)
	}
	s.put(id, nil)
	return nil
}

func (s *Store) Get(id uint256.Int) (SellOffer, error) {
	o, ok := s.offers[id]
	if !ok {
		return SellOffer{}, errors.Wrapf(errs.ErrOfferNotFound, "asset id %s", id.Dec())
	}
	return o, nil
}

// Seller returns the zero address when no offer exists for id.
func (s *Store) Seller(id uint256.Int) common.Address {
	return s.offers[id].Seller
}

// RemoveIfPresent reports whether an offer was removed.
func (s *Store) RemoveIfPresent(id uint256.Int) bool {
	if !s.Exists(id) {
		return false
	}
	s.put(id, nil)
	return true
}

// List returns all offers ordered by asset id.
func (s *Store) List() []SellOffer {
	out := make([]SellOffer, 0, len(s.offers))
	for _, o := range s.offers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].AssetID.Lt(&out[k].AssetID)
	})
	return out
}

func (s *Store) Len() int {
	return len(s.offers)
}

// Changes splits the dirty set into offers to write and ids to delete.
func (s *Store) Changes() (upserts []SellOffer, deletes []uint256.Int) {
	for id := range s.dirty {
		if o, ok := s.offers[id]; ok {
			upserts = append(upserts, o)
		} else {
			deletes = append(deletes, id)
		}
	}
	return upserts, deletes
}

func (s *Store) ClearChanges() {
	s.dirty = make(map[uint256.Int]struct{})
}

// put stores o under id, or removes id when o is nil.
func (s *Store) put(id uint256.Int, o *SellOffer) {
	prev, had := s.offers[id]
	if o == nil {
		delete(s.offers, id)
	} else {
		s.offers[id] = *o
	}
	_, wasDirty := s.dirty[id]
	s.dirty[id] = struct{}{}
	journal.Record(s.j, func() {
		if had {
			s.offers[id] = prev
		} else {
			delete(s.offers, id)
		}
		if !wasDirty {
			delete(s.dirty, id)
		}
	})
}
