package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"walletbridge/internal/infra/config"
)

var sealCmd = &cobra.Command{
	Use:   "seal [value]",
	Short: "Seal a secret for use in the config file",
	Long: `seal encrypts a secret (gateway token, redis password, RPC endpoint)
with the passphrase in ` + config.ConfigKeyEnv + `. The output goes
verbatim into the config file; Load opens it with the same passphrase.
Without an argument the value is read from the first line of stdin.`,
	Args: cobra.MaximumNArgs(1),
	// Sealing must work before the config it is for can load.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase := os.Getenv(config.ConfigKeyEnv)
		if passphrase == "" {
			return fmt.Errorf("%s is not set", config.ConfigKeyEnv)
		}
		value, err := sealInput(cmd, args)
		if err != nil {
			return err
		}
		sealed, err := config.Seal(value, passphrase)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}

func sealInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read value: %w", err)
		}
		return "", errors.New("empty value")
	}
	return line, nil
}

func init() {
	rootCmd.AddCommand(sealCmd)
}
