package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"walletbridge/internal/domain"
	"walletbridge/internal/infra/config"
	"walletbridge/internal/transport"
	"walletbridge/internal/usecase/client"
	"walletbridge/pkg/walletsdk"
)

// clientOptions maps the client config onto SDK options.
func clientOptions(c config.ClientConfig, logger *slog.Logger, extra ...walletsdk.Option) []walletsdk.Option {
	opts := []walletsdk.Option{walletsdk.WithLogger(logger)}
	if c.SuppressDuplicateAnnounce {
		opts = append(opts, walletsdk.WithSuppressDuplicates())
	}
	if !c.CapabilityGuard {
		opts = append(opts, walletsdk.WithoutCapabilityGuard())
	}
	return append(opts, extra...)
}

// withProvider connects to the chosen provider over surface and runs fn.
func withProvider(ctx context.Context, surface transport.Transport, c *config.Config, logger *slog.Logger, want string, fn func(ctx context.Context, ch *client.HotOstrichChannel) error) error {
	sdk, err := walletsdk.NewClient(ctx, surface, clientOptions(c.Client, logger)...)
	if err != nil {
		return err
	}
	defer sdk.Close()

	ann, err := sdk.WaitForProvider(ctx, want)
	if err != nil {
		if want == "" {
			return fmt.Errorf("no provider announced itself: %w", err)
		}
		return fmt.Errorf("provider %q did not announce itself: %w", want, err)
	}
	ch, err := sdk.Connect(ctx, ann.ProviderID, client.HotOstrichHandlers{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", ann.ProviderID, err)
	}
	logger.Debug("connected", "provider_id", ann.ProviderID, "capabilities", ch.Capabilities().List())
	return fn(ctx, ch)
}

// runAgainstProvider opens the client surface for the loaded config and
// runs fn against the selected provider within the request timeout.
func runAgainstProvider(ctx context.Context, fn func(ctx context.Context, ch *client.HotOstrichChannel) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout())
	defer cancel()

	surface, closeSurface, err := clientSurface(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSurface()
	return withProvider(ctx, surface, cfg, log, providerID, fn)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProviders(w io.Writer, providers []domain.ProviderAnnouncement) error {
	if jsonOutput {
		return printJSON(w, providers)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER ID\tNAME\tCHAIN\tPROTOCOLS")
	for _, p := range providers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ProviderID, p.FriendlyName, p.ChainName, protocolList(p.SupportedProtocols))
	}
	return tw.Flush()
}

func protocolList(ps []domain.Protocol) string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Name + "@" + p.Version
	}
	return strings.Join(names, ",")
}
