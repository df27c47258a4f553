package transaction

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowmarket/pkg/crypto"
)

var market = common.HexToAddress("0x000000000000000000000000000000000000e5c0")

func buyTx(caller common.Address) *SignedTransaction {
	return &SignedTransaction{
		Type: TxBuyOffer,
		Action: &ActionPayload{
			AssetID:  "65678",
			Rail:     "eth",
			Value:    "100000000000000000",
			Nonce:    "1",
			Deadline: "1700003600",
			Caller:   caller.Hex(),
		},
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	v := NewVerifier(crypto.DefaultDomain(market))

	tx := buyTx(signer.Address())
	if err := v.Sign(signer, tx); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	parsed, err := ParseTransaction(raw)
	if err != nil {
		t.Fatalf("ParseTransaction: %v", err)
	}
	action, err := v.Verify(parsed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if action.AssetID.Uint64() != 65678 || action.Rail != "eth" || action.Caller != signer.Address() {
		t.Errorf("decoded action = %+v", action)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	other, _ := crypto.GenerateKey()
	v := NewVerifier(crypto.DefaultDomain(market))

	tx := buyTx(signer.Address())
	if err := v.Sign(signer, tx); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tx.Action.Value = "1"
	if _, err := v.Verify(tx); err == nil {
		t.Error("expected failure after changing value")
	}

	tx = buyTx(other.Address())
	if err := v.Sign(signer, tx); err == nil {
		t.Error("Sign should refuse a caller that is not the signer")
	}

	// same payload under another deployment's domain
	tx = buyTx(signer.Address())
	_ = v.Sign(signer, tx)
	otherDomain := NewVerifier(crypto.DefaultDomain(common.HexToAddress("0x01")))
	if _, err := otherDomain.Verify(tx); err == nil {
		t.Error("signature should not verify under a different domain")
	}
}

func TestValidate(t *testing.T) {
	caller := "0x00000000000000000000000000000000000000aa"
	tests := []struct {
		name string
		tx   SignedTransaction
		want string
	}{
		{"missing signature", SignedTransaction{Type: TxBuyOffer, Action: &ActionPayload{Caller: caller}}, "missing signature"},
		{"missing payload", SignedTransaction{Type: TxBuyOffer, Signature: "0x01"}, "missing action"},
		{"unknown type", SignedTransaction{Type: "auction", Action: &ActionPayload{Caller: caller}, Signature: "0x01"}, "unknown transaction type"},
		{"buy without rail", SignedTransaction{Type: TxBuyOffer, Action: &ActionPayload{AssetID: "1", Caller: caller}, Signature: "0x01"}, "requires assetId and rail"},
		{"fee rate without bps", SignedTransaction{Type: TxSetFeeRate, Action: &ActionPayload{Caller: caller}, Signature: "0x01"}, "requires feeBps"},
		{"create without seller", SignedTransaction{Type: TxCreateSellOffer, Action: &ActionPayload{AssetID: "1", AssetContract: caller, Caller: caller}, Signature: "0x01"}, "requires assetId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tx.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestToEIP712RejectsBadNumbers(t *testing.T) {
	p := &ActionPayload{AssetID: "-5", Nonce: "1", Caller: "0x00000000000000000000000000000000000000aa"}
	if _, err := p.ToEIP712(TxDeleteSellOffer); err == nil {
		t.Error("expected error for negative asset id")
	}
	p = &ActionPayload{AssetID: "5", Nonce: "1", Caller: "not-an-address"}
	if _, err := p.ToEIP712(TxDeleteSellOffer); err == nil {
		t.Error("expected error for malformed caller")
	}
}

func TestFromEIP712RoundTrip(t *testing.T) {
	p := buyTx(common.HexToAddress("0x00000000000000000000000000000000000000aa")).Action
	a, err := p.ToEIP712(TxBuyOffer)
	if err != nil {
		t.Fatalf("ToEIP712: %v", err)
	}
	back := FromEIP712(a)
	if *back != *p {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, p)
	}
}

func TestDecodeSignature(t *testing.T) {
	if _, err := decodeSignature("0x1234"); err == nil {
		t.Error("expected length error")
	}
	if _, err := decodeSignature("zz"); err == nil {
		t.Error("expected hex error")
	}
	if b, err := decodeSignature(strings.Repeat("ab", 65)); err != nil || len(b) != 65 {
		t.Errorf("decodeSignature = %d bytes, %v", len(b), err)
	}
}
