package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"overdue-loan-alerts/internal/app"
)

var (
	simulateChainID  int64
	simulateBidID    string
	simulateBorrower string
	simulateRaw      string
	simulateSymbol   string
	simulateDecimals int32
	simulateStatus   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一条逾期贷款告警并推送 Slack",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBidID == "" {
			return errors.New("--bid-id 必须提供")
		}
		if simulateChainID <= 0 {
			return errors.New("--chain-id 必须大于 0")
		}

		opts := app.SimulateOptions{
			ChainID:  simulateChainID,
			BidID:    simulateBidID,
			Borrower: simulateBorrower,
			Raw:      simulateRaw,
			Symbol:   simulateSymbol,
			Decimals: simulateDecimals,
			Status:   simulateStatus,
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Int64Var(&simulateChainID, "chain-id", 1, "Chain ID for the synthetic bid")
	simulateCmd.Flags().StringVar(&simulateBidID, "bid-id", "", "Bid ID for the synthetic bid")
	simulateCmd.Flags().StringVar(&simulateBorrower, "borrower", "0x0000000000000000000000000000000000000000", "Borrower address")
	simulateCmd.Flags().StringVar(&simulateRaw, "principal", "1000000", "Raw principal amount")
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "USDC", "Lending token symbol")
	simulateCmd.Flags().Int32Var(&simulateDecimals, "decimals", 6, "Lending token decimals")
	simulateCmd.Flags().StringVar(&simulateStatus, "status", "Accepted", "Bid status")
}
