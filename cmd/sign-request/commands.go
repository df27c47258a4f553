package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uhyunpark/escrowmarket/pkg/app/core/offer"
	"github.com/uhyunpark/escrowmarket/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowmarket/pkg/crypto"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new secp256k1 key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "address: %s\nprivate_key: 0x%s\n", s.Address().Hex(), s.PrivateKeyHex())
		return nil
	},
}

var (
	createContract string
	createAssetID  string
	createQty      string
	createKind     string
	createPrice    string
	createSeller   string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "List an asset for sale (create_sell_offer)",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := offer.ParseAssetKind(createKind)
		if err != nil {
			return err
		}
		seller := createSeller
		if seller == "" {
			s, err := loadSigner()
			if err != nil {
				return err
			}
			seller = s.Address().Hex()
		}
		return signAndEmit(cmd.OutOrStdout(), transaction.TxCreateSellOffer, transaction.ActionPayload{
			AssetContract:  createContract,
			AssetID:        createAssetID,
			Quantity:       createQty,
			Kind:           uint8(kind),
			ReferencePrice: createPrice,
			Target:         seller,
		})
	},
}

var deleteAssetID string

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Withdraw an offer (delete_sell_offer)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signAndEmit(cmd.OutOrStdout(), transaction.TxDeleteSellOffer, transaction.ActionPayload{AssetID: deleteAssetID})
	},
}

var (
	buyAssetID string
	buyRail    string
	buyValue   string
)

var buyCmd = &cobra.Command{
	Use:   "buy",
	Short: "Buy an offer (buy_offer)",
	Long: `Buys the offer for --asset-id on --rail. Native rails need --value in wei
(any surplus is refunded); token rails are paid from the caller's allowance.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return signAndEmit(cmd.OutOrStdout(), transaction.TxBuyOffer, transaction.ActionPayload{
			AssetID: buyAssetID,
			Rail:    buyRail,
			Value:   buyValue,
		})
	},
}

var adminTarget string

var setFeeRecipientCmd = &cobra.Command{
	Use:   "set-fee-recipient",
	Short: "Change the fee recipient (owner only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signAndEmit(cmd.OutOrStdout(), transaction.TxSetFeeRecipient, transaction.ActionPayload{Target: adminTarget})
	},
}

var transferOwnershipCmd = &cobra.Command{
	Use:   "transfer-ownership",
	Short: "Hand the marketplace to a new owner (owner only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signAndEmit(cmd.OutOrStdout(), transaction.TxTransferOwnership, transaction.ActionPayload{Target: adminTarget})
	},
}

var feeBps string

var setFeeRateCmd = &cobra.Command{
	Use:   "set-fee-rate",
	Short: "Change the fee rate in basis points (owner only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return signAndEmit(cmd.OutOrStdout(), transaction.TxSetFeeRate, transaction.ActionPayload{FeeBps: feeBps})
	},
}

func init() {
	createCmd.Flags().StringVar(&createContract, "asset-contract", "", "asset registry address")
	createCmd.Flags().StringVar(&createAssetID, "asset-id", "", "asset id (decimal)")
	createCmd.Flags().StringVar(&createQty, "quantity", "1", "units to sell; 1 for unique assets")
	createCmd.Flags().StringVar(&createKind, "kind", "multi_unit", "unique or multi_unit")
	createCmd.Flags().StringVar(&createPrice, "price", "", "reference price in USD cents")
	createCmd.Flags().StringVar(&createSeller, "seller", "", "seller address (default: the signer)")
	createCmd.MarkFlagRequired("asset-contract")
	createCmd.MarkFlagRequired("asset-id")
	createCmd.MarkFlagRequired("price")

	deleteCmd.Flags().StringVar(&deleteAssetID, "asset-id", "", "asset id (decimal)")
	deleteCmd.MarkFlagRequired("asset-id")

	buyCmd.Flags().StringVar(&buyAssetID, "asset-id", "", "asset id (decimal)")
	buyCmd.Flags().StringVar(&buyRail, "rail", "eth", "payment rail id")
	buyCmd.Flags().StringVar(&buyValue, "value", "", "native value tendered, in wei")
	buyCmd.MarkFlagRequired("asset-id")

	for _, c := range []*cobra.Command{setFeeRecipientCmd, transferOwnershipCmd} {
		c.Flags().StringVar(&adminTarget, "target", "", "address")
		c.MarkFlagRequired("target")
	}
	setFeeRateCmd.Flags().StringVar(&feeBps, "bps", "", "fee rate, 0..10000")
	setFeeRateCmd.MarkFlagRequired("bps")

	rootCmd.AddCommand(keygenCmd, createCmd, deleteCmd, buyCmd, setFeeRecipientCmd, setFeeRateCmd, transferOwnershipCmd)
}
