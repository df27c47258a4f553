package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	privHex := signer1.PrivateKeyHex()
	if len(privHex) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(privHex))
	}

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key: %v", err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	message := []byte("escrow")

	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	hash := eth_crypto.Keccak256Hash(message).Bytes()

	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}
	if VerifySignature(common.HexToAddress("0x01"), hash, signature) {
		t.Error("signature should not verify with wrong address")
	}

	// wallet-style V (27/28)
	walletSig := append([]byte(nil), signature...)
	walletSig[64] += 27
	recovered, err := RecoverAddress(hash, walletSig)
	if err != nil || recovered != signer.Address() {
		t.Errorf("RecoverAddress with V+27 = %s, %v", recovered.Hex(), err)
	}

	if VerifySignature(signer.Address(), hash, []byte{1, 2, 3}) {
		t.Error("short signature should not verify")
	}
	if VerifySignature(signer.Address(), []byte("short"), make([]byte, 65)) {
		t.Error("short hash should not verify")
	}
}

func TestSignActionRoundTrip(t *testing.T) {
	signer, _ := GenerateKey()
	market := common.HexToAddress("0x000000000000000000000000000000000000e5c0")
	eip := NewEIP712Signer(DefaultDomain(market))

	action := &MarketActionEIP712{
		Action:         "create_sell_offer",
		AssetContract:  common.HexToAddress("0xd07dc4262bcdbf85190c01c996b4c06a461d2430"),
		AssetID:        big.NewInt(65678),
		Quantity:       big.NewInt(10),
		Kind:           2,
		ReferencePrice: big.NewInt(15000),
		Target:         signer.Address(),
		Nonce:          big.NewInt(1),
		Caller:         signer.Address(),
	}
	sig, err := eip.SignAction(signer, action)
	if err != nil {
		t.Fatalf("SignAction: %v", err)
	}
	recovered, err := eip.RecoverActionSigner(action, sig)
	if err != nil || recovered != signer.Address() {
		t.Fatalf("RecoverActionSigner = %s, %v", recovered.Hex(), err)
	}

	// any field change yields a different signer
	tampered := *action
	tampered.ReferencePrice = big.NewInt(1)
	recovered, err = eip.RecoverActionSigner(&tampered, sig)
	if err == nil && recovered == signer.Address() {
		t.Error("tampered action recovered the original signer")
	}

	// a signature for one deployment is not valid for another
	other := NewEIP712Signer(DefaultDomain(common.HexToAddress("0x01")))
	recovered, err = other.RecoverActionSigner(action, sig)
	if err == nil && recovered == signer.Address() {
		t.Error("signature replayed across domains")
	}

	js, err := eip.ActionToJSON(action)
	if err != nil || !strings.Contains(js, "MarketAction") {
		t.Errorf("ActionToJSON = %q, %v", js, err)
	}
}
