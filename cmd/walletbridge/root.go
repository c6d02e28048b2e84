package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"walletbridge/internal/infra/config"
	"walletbridge/internal/infra/logger"
)

var (
	// Global flags
	cfgFile     string
	gatewayURL  string
	tokenFlag   string
	providerID  string
	timeoutFlag time.Duration
	jsonOutput  bool

	// Shared state set during PersistentPreRun
	cfg       *config.Config
	log       *slog.Logger
	logCloser func() error
)

var rootCmd = &cobra.Command{
	Use:   "walletbridge",
	Short: "Wallet provider bridge for dapps speaking the hot ostrich protocol",
	Long: `walletbridge puts an Ethereum wallet on a shared message surface where
dapps discover it with the handshake protocol and use it over hot ostrich.
'serve' runs a provider behind a websocket gateway; the other commands
act as a dapp against a running gateway.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath())
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if gatewayURL != "" {
			cfg.Transport.Kind = "websocket"
			cfg.Transport.URL = gatewayURL
		}
		if tokenFlag != "" {
			cfg.Transport.Token = tokenFlag
		}
		log, logCloser, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser()
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// configPath prefers --config, then WALLETBRIDGE_CONFIG. A missing file
// yields the defaults.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := os.Getenv("WALLETBRIDGE_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// requestTimeout is --timeout, else the configured client request timeout.
func requestTimeout() time.Duration {
	if timeoutFlag > 0 {
		return timeoutFlag
	}
	if cfg != nil && cfg.Client.RequestTimeout > 0 {
		return cfg.Client.RequestTimeout
	}
	return 30 * time.Second
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: $WALLETBRIDGE_CONFIG or ./config.yaml)")
	pf.StringVar(&gatewayURL, "url", "", "gateway websocket URL, e.g. ws://127.0.0.1:8546/ws")
	pf.StringVar(&tokenFlag, "token", "", "gateway bearer token")
	pf.StringVar(&providerID, "provider", "", "provider id to use (default: first to announce)")
	pf.DurationVar(&timeoutFlag, "timeout", 0, "request timeout (default: client.request_timeout)")
	pf.BoolVar(&jsonOutput, "json", false, "print JSON instead of text")
}
