package storage

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/access"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/offer"
)

// PebbleStore persists the offer table, fee config and owner.
// The engine is its only writer.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

// NewMemStore opens a store backed by an in-memory filesystem.
func NewMemStore() (*PebbleStore, error) {
	return openFS("", vfs.NewMem())
}

func openFS(path string, fs vfs.FS) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{FS: fs})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// ChangeSet is everything one committed marketplace operation changed.
type ChangeSet struct {
	Upserts []offer.SellOffer
	Deletes []uint256.Int
	Fee     *access.FeeConfig
	Owner   *common.Address
	Nonces  map[common.Address]uint64 // last accepted request nonce per caller
}

func (c ChangeSet) Empty() bool {
	return len(c.Upserts) == 0 && len(c.Deletes) == 0 && c.Fee == nil && c.Owner == nil && len(c.Nonces) == 0
}

// Commit writes a change set in a single synced batch.
func (s *PebbleStore) Commit(cs ChangeSet) error {
	if cs.Empty() {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, o := range cs.Upserts {
		data, err := json.Marshal(encodeOffer(o))
		if err != nil {
			return fmt.Errorf("failed to marshal offer: %w", err)
		}
		if err := batch.Set(offerKey(o.AssetID), data, nil); err != nil {
			return fmt.Errorf("failed to stage offer: %w", err)
		}
	}
	for _, id := range cs.Deletes {
		if err := batch.Delete(offerKey(id), nil); err != nil {
			return fmt.Errorf("failed to stage offer delete: %w", err)
		}
	}
	if cs.Fee != nil {
		data, err := json.Marshal(encodeFee(*cs.Fee))
		if err != nil {
			return fmt.Errorf("failed to marshal fee config: %w", err)
		}
		if err := batch.Set([]byte(keyFeeConfig), data, nil); err != nil {
			return fmt.Errorf("failed to stage fee config: %w", err)
		}
	}
	if cs.Owner != nil {
		if err := batch.Set([]byte(keyOwner), []byte(cs.Owner.Hex()), nil); err != nil {
			return fmt.Errorf("failed to stage owner: %w", err)
		}
	}
	for addr, n := range cs.Nonces {
		if err := batch.Set(nonceKey(addr), []byte(strconv.FormatUint(n, 10)), nil); err != nil {
			return fmt.Errorf("failed to stage nonce: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// LoadOffers returns every persisted offer ordered by asset id.
func (s *PebbleStore) LoadOffers() ([]offer.SellOffer, error) {
	prefix := []byte(prefixOffer)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open offer iterator: %w", err)
	}
	defer iter.Close()

	var offers []offer.SellOffer
	for iter.First(); iter.Valid(); iter.Next() {
		var rec offerRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal offer %s: %w", iter.Key(), err)
		}
		o, err := rec.decode()
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, iter.Error()
}

// LoadFeeConfig reports false when no fee config was ever written.
func (s *PebbleStore) LoadFeeConfig() (access.FeeConfig, bool, error) {
	data, closer, err := s.db.Get([]byte(keyFeeConfig))
	if err == pebble.ErrNotFound {
		return access.FeeConfig{}, false, nil
	}
	if err != nil {
		return access.FeeConfig{}, false, fmt.Errorf("failed to get fee config: %w", err)
	}
	defer closer.Close()

	var rec feeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return access.FeeConfig{}, false, fmt.Errorf("failed to unmarshal fee config: %w", err)
	}
	return rec.decode(), true, nil
}

func (s *PebbleStore) LoadOwner() (common.Address, bool, error) {
	data, closer, err := s.db.Get([]byte(keyOwner))
	if err == pebble.ErrNotFound {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, fmt.Errorf("failed to get owner: %w", err)
	}
	defer closer.Close()
	return common.HexToAddress(string(data)), true, nil
}

// LoadNonces returns the last accepted nonce of every caller seen so far.
func (s *PebbleStore) LoadNonces() (map[common.Address]uint64, error) {
	prefix := []byte(prefixNonce)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open nonce iterator: %w", err)
	}
	defer iter.Close()

	nonces := make(map[common.Address]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		raw, err := hex.DecodeString(string(iter.Key()[len(prefix):]))
		if err != nil || len(raw) != common.AddressLength {
			return nil, fmt.Errorf("malformed nonce key %q", iter.Key())
		}
		n, err := strconv.ParseUint(string(iter.Value()), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed nonce for %x: %w", raw, err)
		}
		nonces[common.BytesToAddress(raw)] = n
	}
	return nonces, iter.Error()
}
