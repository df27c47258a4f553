package market

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// StateRoot is a keccak256 commitment over the offer table (in asset id
// order), the owner and the fee config. Two engines holding the same state
// report the same root.
func (e *Engine) StateRoot() common.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte

	for _, o := range e.offers.List() {
		id := o.AssetID.Bytes32()
		h.Write(id[:])
		h.Write(o.AssetContract.Bytes())
		h.Write([]byte{byte(o.Kind)})
		binary.BigEndian.PutUint64(buf[:], o.Quantity)
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], o.ReferencePrice)
		h.Write(buf[:])
		h.Write(o.Seller.Bytes())
		binary.BigEndian.PutUint64(buf[:], uint64(o.CreatedAt.UnixMilli()))
		h.Write(buf[:])
	}

	fee := e.guard.Fee()
	h.Write(e.guard.Owner().Bytes())
	h.Write(fee.Recipient.Bytes())
	binary.BigEndian.PutUint32(buf[:4], fee.RateBps)
	h.Write(buf[:4])

	var root common.Hash
	h.Sum(root[:0])
	return root
}
