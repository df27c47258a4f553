package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowmarket/pkg/crypto"
)

// TxType names the marketplace operation a transaction invokes.
type TxType string

const (
	TxCreateSellOffer   TxType = "create_sell_offer"
	TxDeleteSellOffer   TxType = "delete_sell_offer"
	TxBuyOffer          TxType = "buy_offer"
	TxSetFeeRecipient   TxType = "set_fee_recipient"
	TxSetFeeRate        TxType = "set_fee_rate"
	TxTransferOwnership TxType = "transfer_ownership"
)

// IsAdmin reports whether t is an owner-only configuration change.
func (t TxType) IsAdmin() bool {
	return t == TxSetFeeRecipient || t == TxSetFeeRate || t == TxTransferOwnership
}

// SignedTransaction is the JSON envelope submitted to the node.
type SignedTransaction struct {
	Type      TxType         `json:"type"`
	Action    *ActionPayload `json:"action"`
	Signature string         `json:"signature"` // hex, 0x-prefixed
}

// ActionPayload mirrors crypto.MarketActionEIP712 with big numbers as decimal
// strings. Empty numeric fields mean zero.
type ActionPayload struct {
	AssetContract  string `json:"assetContract,omitempty"`
	AssetID        string `json:"assetId,omitempty"`
	Quantity       string `json:"quantity,omitempty"`
	Kind           uint8  `json:"kind,omitempty"`
	ReferencePrice string `json:"referencePrice,omitempty"`
	Rail           string `json:"rail,omitempty"`
	Value          string `json:"value,omitempty"`
	Target         string `json:"target,omitempty"`
	FeeBps         string `json:"feeBps,omitempty"`
	Nonce          string `json:"nonce"`
	Deadline       string `json:"deadline,omitempty"`
	Caller         string `json:"caller"`
}

// ToEIP712 converts the payload into the typed structure that was signed.
func (p *ActionPayload) ToEIP712(t TxType) (*crypto.MarketActionEIP712, error) {
	out := &crypto.MarketActionEIP712{
		Action: string(t),
		Kind:   p.Kind,
		Rail:   p.Rail,
	}
	fields := []struct {
		name string
		in   string
		out  **big.Int
	}{
		{"assetId", p.AssetID, &out.AssetID},
		{"quantity", p.Quantity, &out.Quantity},
		{"referencePrice", p.ReferencePrice, &out.ReferencePrice},
		{"value", p.Value, &out.Value},
		{"feeBps", p.FeeBps, &out.FeeBps},
		{"nonce", p.Nonce, &out.Nonce},
		{"deadline", p.Deadline, &out.Deadline},
	}
	for _, f := range fields {
		v, err := parseUint(f.in)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.out = v
	}

	addrs := []struct {
		name string
		in   string
		out  *common.Address
	}{
		{"assetContract", p.AssetContract, &out.AssetContract},
		{"target", p.Target, &out.Target},
		{"caller", p.Caller, &out.Caller},
	}
	for _, a := range addrs {
		if a.in == "" {
			continue
		}
		if !common.IsHexAddress(a.in) {
			return nil, fmt.Errorf("invalid %s address: %s", a.name, a.in)
		}
		*a.out = common.HexToAddress(a.in)
	}
	return out, nil
}

// FromEIP712 builds the wire payload for a typed action.
func FromEIP712(a *crypto.MarketActionEIP712) *ActionPayload {
	p := &ActionPayload{
		Kind:           a.Kind,
		Rail:           a.Rail,
		Nonce:          decimalOrEmpty(a.Nonce),
		Deadline:       decimalOrEmpty(a.Deadline),
		Caller:         a.Caller.Hex(),
		AssetID:        decimalOrEmpty(a.AssetID),
		Quantity:       decimalOrEmpty(a.Quantity),
		ReferencePrice: decimalOrEmpty(a.ReferencePrice),
		Value:          decimalOrEmpty(a.Value),
		FeeBps:         decimalOrEmpty(a.FeeBps),
	}
	if a.AssetContract != (common.Address{}) {
		p.AssetContract = a.AssetContract.Hex()
	}
	if a.Target != (common.Address{}) {
		p.Target = a.Target.Hex()
	}
	if p.Nonce == "" {
		p.Nonce = "0"
	}
	return p
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Validate performs basic validation on transaction structure
func (tx *SignedTransaction) Validate() error {
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	if tx.Action == nil {
		return fmt.Errorf("missing action payload")
	}
	if tx.Action.Caller == "" {
		return fmt.Errorf("missing caller")
	}

	switch tx.Type {
	case TxCreateSellOffer:
		if tx.Action.AssetID == "" || tx.Action.AssetContract == "" || tx.Action.Target == "" {
			return fmt.Errorf("create_sell_offer requires assetId, assetContract and target (seller)")
		}
	case TxDeleteSellOffer:
		if tx.Action.AssetID == "" {
			return fmt.Errorf("delete_sell_offer requires assetId")
		}
	case TxBuyOffer:
		if tx.Action.AssetID == "" || tx.Action.Rail == "" {
			return fmt.Errorf("buy_offer requires assetId and rail")
		}
	case TxSetFeeRecipient, TxTransferOwnership:
		if tx.Action.Target == "" {
			return fmt.Errorf("%s requires target", tx.Type)
		}
	case TxSetFeeRate:
		if tx.Action.FeeBps == "" {
			return fmt.Errorf("set_fee_rate requires feeBps")
		}
	case "":
		return fmt.Errorf("missing transaction type")
	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	return nil
}

// ParseTransaction decodes and structurally validates a JSON transaction.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return &tx, nil
}

func parseUint(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("not a non-negative decimal: %q", s)
	}
	return v, nil
}

func decimalOrEmpty(x *big.Int) string {
	if x == nil || x.Sign() == 0 {
		return ""
	}
	return x.String()
}

// Example (buy with native value):
//   {
//     "type": "buy_offer",
//     "action": {
//       "assetId": "65678",
//       "rail": "eth",
//       "value": "100000000000000000",
//       "nonce": "3",
//       "deadline": "1700003600",
//       "caller": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
//     },
//     "signature": "0x..."
//   }
