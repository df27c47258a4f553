package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Key schema:
//
//   off:<64 hex chars>  → offer record (asset id, zero-padded, so scans are ordered by id)
//   cfg:fee             → fee record
//   cfg:owner           → owner address (hex)
//   nonce:<40 hex chars> → last accepted request nonce of a caller (decimal)
//   meta:schema         → schema version (decimal)

const (
	prefixOffer  = "off:"
	keyFeeConfig = "cfg:fee"
	keyOwner     = "cfg:owner"
	keySchema    = "meta:schema"
	prefixNonce  = "nonce:"
)

// offerKey returns "off:{assetID as 32-byte hex}".
func offerKey(id uint256.Int) []byte {
	b := id.Bytes32()
	return []byte(fmt.Sprintf("%s%x", prefixOffer, b[:]))
}

// nonceKey returns "nonce:{address as lowercase hex}".
func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", prefixNonce, addr.Bytes()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
