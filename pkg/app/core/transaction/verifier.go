package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowmarket/pkg/crypto"
)

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify checks that tx was signed by the caller it names and returns the
// decoded action.
func (v *Verifier) Verify(tx *SignedTransaction) (*crypto.MarketActionEIP712, error) {
	if tx.Action == nil {
		return nil, fmt.Errorf("missing action payload")
	}
	action, err := tx.Action.ToEIP712(tx.Type)
	if err != nil {
		return nil, fmt.Errorf("invalid action format: %w", err)
	}
	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	recovered, err := v.eip712Signer.RecoverActionSigner(action, sigBytes)
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}
	if recovered != action.Caller {
		return nil, fmt.Errorf("signature from %s does not match caller %s", recovered.Hex(), action.Caller.Hex())
	}
	return action, nil
}

// Sign fills tx.Signature for the given signer. The payload's caller must be
// the signer's address.
func (v *Verifier) Sign(signer *crypto.Signer, tx *SignedTransaction) error {
	action, err := tx.Action.ToEIP712(tx.Type)
	if err != nil {
		return err
	}
	if action.Caller != signer.Address() {
		return fmt.Errorf("caller %s is not the signer %s", action.Caller.Hex(), signer.Address().Hex())
	}
	sig, err := v.eip712Signer.SignAction(signer, action)
	if err != nil {
		return err
	}
	tx.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// RecoverSigner returns the address that signed tx without comparing it to
// the named caller.
func (v *Verifier) RecoverSigner(tx *SignedTransaction) (common.Address, error) {
	action, err := tx.Action.ToEIP712(tx.Type)
	if err != nil {
		return common.Address{}, err
	}
	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, err
	}
	return v.eip712Signer.RecoverActionSigner(action, sigBytes)
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}
