package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateBuy  string
	simulateSell string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用给定的买入/卖出价评估种子规则并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateBuy == "" || simulateSell == "" {
			return errors.New("--buy 与 --sell 必须同时提供")
		}

		buy, err := decimal.NewFromString(simulateBuy)
		if err != nil {
			return errors.New("--buy 不是合法数字")
		}
		sell, err := decimal.NewFromString(simulateSell)
		if err != nil {
			return errors.New("--sell 不是合法数字")
		}
		if buy.IsNegative() || sell.IsNegative() {
			return errors.New("--buy 与 --sell 不能为负数")
		}

		return getApp().SimulateAlert(cmd.Context(), buy, sell)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateBuy, "buy", "", "买入价 (totalAsk)")
	simulateCmd.Flags().StringVar(&simulateSell, "sell", "", "卖出价 (totalBid)")
}
