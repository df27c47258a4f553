package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain binds signatures to one marketplace deployment.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // the marketplace escrow address
}

func DefaultDomain(market common.Address) EIP712Domain {
	return EIP712Domain{
		Name:              "EscrowMarket",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: market,
	}
}

// MarketActionEIP712 is the typed structure callers sign for every
// marketplace operation. Fields an action does not use are left zero.
type MarketActionEIP712 struct {
	Action         string         // create_sell_offer, delete_sell_offer, buy_offer, set_fee_recipient, set_fee_rate, transfer_ownership
	AssetContract  common.Address //
	AssetID        *big.Int       //
	Quantity       *big.Int       //
	Kind           uint8          // 1 = unique, 2 = multi-unit
	ReferencePrice *big.Int       // USD cents
	Rail           string         // payment rail id for buy_offer
	Value          *big.Int       // native value tendered with buy_offer
	Target         common.Address // seller, fee recipient or new owner
	FeeBps         *big.Int       //
	Nonce          *big.Int       // strictly increasing per caller
	Deadline       *big.Int       // unix seconds, 0 = no expiry
	Caller         common.Address
}

var marketActionType = []apitypes.Type{
	{Name: "action", Type: "string"},
	{Name: "assetContract", Type: "address"},
	{Name: "assetId", Type: "uint256"},
	{Name: "quantity", Type: "uint256"},
	{Name: "kind", Type: "uint8"},
	{Name: "referencePrice", Type: "uint256"},
	{Name: "rail", Type: "string"},
	{Name: "value", Type: "uint256"},
	{Name: "target", Type: "address"},
	{Name: "feeBps", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "deadline", Type: "uint256"},
	{Name: "caller", Type: "address"},
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(a *MarketActionEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"MarketAction": marketActionType,
		},
		PrimaryType: "MarketAction",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"action":         a.Action,
			"assetContract":  a.AssetContract.Hex(),
			"assetId":        decimal(a.AssetID),
			"quantity":       decimal(a.Quantity),
			"kind":           fmt.Sprintf("%d", a.Kind),
			"referencePrice": decimal(a.ReferencePrice),
			"rail":           a.Rail,
			"value":          decimal(a.Value),
			"target":         a.Target.Hex(),
			"feeBps":         decimal(a.FeeBps),
			"nonce":          decimal(a.Nonce),
			"deadline":       decimal(a.Deadline),
			"caller":         a.Caller.Hex(),
		},
	}
}

// HashAction returns the EIP-712 digest of a.
func (e *EIP712Signer) HashAction(a *MarketActionEIP712) ([]byte, error) {
	typedData := e.typedData(a)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

func (e *EIP712Signer) SignAction(signer *Signer, a *MarketActionEIP712) ([]byte, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return nil, fmt.Errorf("failed to hash action: %w", err)
	}
	return signer.Sign(hash)
}

// RecoverActionSigner returns the address that produced signature over a.
func (e *EIP712Signer) RecoverActionSigner(a *MarketActionEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashAction(a)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash action: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// ActionToJSON renders a as eth_signTypedData_v4 input for browser wallets.
func (e *EIP712Signer) ActionToJSON(a *MarketActionEIP712) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.typedData(a), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}

func decimal(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}
