package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"walletbridge/internal/domain"
	"walletbridge/internal/usecase/client"
)

var balanceCmd = &cobra.Command{
	Use:   "balance <address>",
	Short: "Print the wei balance of an address through a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := domain.ParseQuantity(args[0])
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", args[0], err)
		}
		return runAgainstProvider(cmd.Context(), func(ctx context.Context, ch *client.HotOstrichChannel) error {
			balance, err := ch.GetBalance(ctx, address)
			if err != nil {
				return fmt.Errorf("get balance: %w", err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"address": domain.FormatAddress(address),
					"wei":     balance.String(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), balance.String())
			return nil
		})
	},
}

var rpcCmd = &cobra.Command{
	Use:   "rpc <method> [params-json]",
	Short: "Send a legacy JSON-RPC request through a provider",
	Long: `rpc forwards an Ethereum JSON-RPC request over the provider's legacy
capability, e.g.

  walletbridge rpc eth_blockNumber
  walletbridge rpc eth_getBalance '["0x5aeda56215b167893e80b4fe645ba6d5bab767de","latest"]'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params []json.RawMessage
		if len(args) == 2 {
			var err error
			if params, err = parseParams(args[1]); err != nil {
				return err
			}
		}
		return runAgainstProvider(cmd.Context(), func(ctx context.Context, ch *client.HotOstrichChannel) error {
			result, err := ch.LegacyJSONRPC(ctx, args[0], params)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), result)
		})
	},
}

var signCmd = &cobra.Command{
	Use:   "sign <message>",
	Short: "Ask the provider's wallet to sign a personal message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgainstProvider(cmd.Context(), func(ctx context.Context, ch *client.HotOstrichChannel) error {
			res, err := ch.SignMessage(ctx, args[0])
			if err != nil {
				return fmt.Errorf("sign message: %w", err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hash:      %s\n", domain.FormatQuantity(res.SignedBytes))
			fmt.Fprintf(cmd.OutOrStdout(), "signature: %s\n", formatSignature(res.Signature))
			return nil
		})
	},
}

// parseParams accepts a JSON array, or a single JSON value taken as the
// only parameter.
func parseParams(s string) ([]json.RawMessage, error) {
	var params []json.RawMessage
	if err := json.Unmarshal([]byte(s), &params); err == nil {
		return params, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("params must be JSON: %q", s)
	}
	return []json.RawMessage{json.RawMessage(s)}, nil
}

// formatSignature renders r || s || v as 65 hex bytes.
func formatSignature(sig domain.Signature) string {
	out := make([]byte, 65)
	if sig.R != nil {
		sig.R.FillBytes(out[:32])
	}
	if sig.S != nil {
		sig.S.FillBytes(out[32:64])
	}
	out[64] = sig.V
	return domain.FormatBytes(out)
}

func init() {
	rootCmd.AddCommand(balanceCmd, rpcCmd, signCmd)
}
