// Command sign-request builds and signs marketplace transactions for the
// node's POST /api/v1/tx endpoint.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/escrowmarket/params"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowmarket/pkg/crypto"
)

var rootCmd = &cobra.Command{
	Use:   "sign-request",
	Short: "Sign escrow marketplace transactions (EIP-712)",
	Long: `Builds a signed marketplace transaction and prints it as JSON.
With --submit the transaction is posted to a node and the node's reply printed.`,
	SilenceUsage: true,
}

var (
	keyHex      string
	devnetOwner bool
	marketAddr  string
	chainID     int64
	nonce       uint64
	deadline    time.Duration
	submitURL   string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&keyHex, "key", "", "hex private key of the caller (or SIGNER_KEY env)")
	pf.BoolVar(&devnetOwner, "devnet-owner", false, "sign with the well-known devnet owner key")
	pf.StringVar(&marketAddr, "market", params.DevnetMarket.Hex(), "marketplace escrow address (EIP-712 verifying contract)")
	pf.Int64Var(&chainID, "chain-id", 1337, "EIP-712 chain id")
	pf.Uint64Var(&nonce, "nonce", 0, "request nonce; must exceed the caller's last accepted nonce (default: unix millis)")
	pf.DurationVar(&deadline, "deadline", time.Hour, "validity window from now; 0 means no deadline")
	pf.StringVar(&submitURL, "submit", "", "node base URL, e.g. http://localhost:8080")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadSigner() (*crypto.Signer, error) {
	switch {
	case devnetOwner:
		return crypto.FromPrivateKeyHex(params.DevnetOwnerKey)
	case keyHex != "":
		return crypto.FromPrivateKeyHex(keyHex)
	case os.Getenv("SIGNER_KEY") != "":
		return crypto.FromPrivateKeyHex(os.Getenv("SIGNER_KEY"))
	}
	return nil, fmt.Errorf("no signing key: pass --key, --devnet-owner or set SIGNER_KEY")
}

func domain() (crypto.EIP712Domain, error) {
	if !common.IsHexAddress(marketAddr) {
		return crypto.EIP712Domain{}, fmt.Errorf("invalid --market address %q", marketAddr)
	}
	d := crypto.DefaultDomain(common.HexToAddress(marketAddr))
	d.ChainID = big.NewInt(chainID)
	return d, nil
}

// signAndEmit fills the envelope fields shared by every action, signs p and
// writes the transaction (or the node's reply) to out.
func signAndEmit(out io.Writer, typ transaction.TxType, p transaction.ActionPayload) error {
	signer, err := loadSigner()
	if err != nil {
		return err
	}
	d, err := domain()
	if err != nil {
		return err
	}
	now := time.Now()
	tx, err := buildTx(signer, d, typ, p, nonce, deadline, now)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	if submitURL == "" {
		fmt.Fprintln(out, string(raw))
		return nil
	}
	return submit(out, submitURL, raw)
}

func buildTx(signer *crypto.Signer, d crypto.EIP712Domain, typ transaction.TxType, p transaction.ActionPayload, n uint64, window time.Duration, now time.Time) (*transaction.SignedTransaction, error) {
	if n == 0 {
		n = uint64(now.UnixMilli())
	}
	p.Nonce = strconv.FormatUint(n, 10)
	if window > 0 {
		p.Deadline = strconv.FormatInt(now.Add(window).Unix(), 10)
	}
	p.Caller = signer.Address().Hex()

	tx := &transaction.SignedTransaction{Type: typ, Action: &p}
	if err := transaction.NewVerifier(d).Sign(signer, tx); err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

func submit(out io.Writer, baseURL string, raw []byte) error {
	resp, err := http.Post(baseURL+"/api/v1/tx", "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(body))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node rejected transaction: %s", resp.Status)
	}
	return nil
}
