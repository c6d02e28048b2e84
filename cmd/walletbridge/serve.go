package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"walletbridge/internal/adapter/discovery"
	"walletbridge/internal/adapter/gateway"
	"walletbridge/internal/adapter/jsonrpc"
	"walletbridge/internal/adapter/wallet"
	"walletbridge/internal/domain"
	"walletbridge/internal/infra/config"
	"walletbridge/internal/infra/metrics"
	"walletbridge/internal/infra/tracer"
	"walletbridge/internal/protocol"
	"walletbridge/internal/transport"
	"walletbridge/internal/usecase/eventbus"
	"walletbridge/internal/usecase/legacy"
	"walletbridge/pkg/walletsdk"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the configured wallet provider behind the websocket gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. Tracer & metrics
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New(metrics.WithNamespace(cfg.Metrics.Namespace))
	}

	// 2. Event bus
	bus := eventbus.New(log)
	defer bus.Close()
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		log.Debug("event", "type", string(e.Type), "provider_id", e.ProviderID, "payload", string(e.Payload))
	})

	// 3. Surface
	surface, closeSurface, err := serveSurface(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer closeSurface()

	// 4. Provider
	p, err := startProvider(ctx, cfg, surface, log, collector, bus)
	if err != nil {
		return err
	}
	defer p.Close()

	// 5. Gateway and LAN advertisement
	errCh := make(chan error, 1)
	if cfg.Gateway.Enabled {
		gw := gateway.NewServer(surface, gateway.NewAuthenticator(cfg.Gateway.Auth), cfg.Gateway,
			gateway.WithLogger(log), gateway.WithMetrics(collector), gateway.WithEventBus(bus))
		go func() { errCh <- gw.Start(ctx) }()
		if cfg.Discovery.MDNS {
			go advertise(ctx, cfg, gw, log)
		}
	}

	log.Info("walletbridge serving",
		"provider_id", cfg.Provider.ID,
		"transport", cfg.Transport.Kind,
		"gateway", cfg.Gateway.Enabled,
		"wallet_mode", cfg.Provider.WalletMode,
	)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	}
}

// startProvider wires the RPC client, legacy bridge and wallet handler and
// puts the provider on surface.
func startProvider(ctx context.Context, cfg *config.Config, surface transport.Transport, log *slog.Logger, collector *metrics.Collector, bus domain.EventBus) (*walletsdk.Provider, error) {
	pc := cfg.Provider
	rpc, err := jsonrpc.New(pc.RPC, log)
	if err != nil {
		return nil, fmt.Errorf("rpc: %w", err)
	}
	return startProviderWith(ctx, pc, rpc, surface, log, collector, bus)
}

func startProviderWith(ctx context.Context, pc config.ProviderConfig, rpc jsonrpc.Caller, surface transport.Transport, log *slog.Logger, collector *metrics.Collector, bus domain.EventBus) (*walletsdk.Provider, error) {
	var gas legacy.GasPriceSource
	if pc.GasPrice != "" {
		price, ok := new(big.Int).SetString(pc.GasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("provider.gas_price %q is not a decimal integer", pc.GasPrice)
		}
		gas = legacy.FixedGasPrice(price)
	}

	ann := domain.ProviderAnnouncement{
		ProviderID:         pc.ID,
		SupportedProtocols: protocol.SupportedProtocols(),
		FriendlyName:       pc.FriendlyName,
		FriendlyIcon:       pc.FriendlyIcon,
		ChainName:          pc.ChainName,
	}
	handler := wallet.NewHandler(rpc, legacy.NewBridge(rpc, gas, log),
		wallet.WithAnnouncement(ann),
		wallet.WithLogger(log),
		wallet.WithErrorCallback(func(err error) {
			if !errors.Is(err, domain.ErrChannelClosed) {
				log.Warn("provider channel error", "error", err)
			}
		}),
	)

	p, err := walletsdk.NewProvider(ctx, surface, handler,
		walletsdk.WithLogger(log), walletsdk.WithMetrics(collector), walletsdk.WithEventBus(bus))
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	if len(pc.Capabilities) > 0 {
		update := make(domain.CapabilityUpdate, len(pc.Capabilities))
		for _, name := range pc.Capabilities {
			update[domain.Capability(name)] = true
		}
		if err := p.Channel().UpdateCapabilities(ctx, update); err != nil {
			p.Close()
			return nil, fmt.Errorf("provider capabilities: %w", err)
		}
	}

	w, err := newWallet(pc, rpc)
	if err != nil {
		p.Close()
		return nil, err
	}
	if w != nil {
		if err := handler.UpdateWallet(ctx, w); err != nil {
			p.Close()
			return nil, fmt.Errorf("attach wallet: %w", err)
		}
	}
	return p, nil
}

// newWallet builds the wallet pc describes, or nil without an address.
func newWallet(pc config.ProviderConfig, rpc jsonrpc.Caller) (domain.Wallet, error) {
	if pc.ViewingAddress == "" {
		return nil, nil
	}
	address, err := domain.ParseQuantity(pc.ViewingAddress)
	if err != nil {
		return nil, fmt.Errorf("provider.viewing_address: %w", err)
	}
	switch pc.WalletMode {
	case "", "view":
		return wallet.NewViewingWallet(address, rpc)
	case "submit":
		return wallet.NewNodeWallet(address, rpc)
	case "sign":
		return wallet.NewSigningWallet(address, rpc, wallet.NodeSigner{RPC: rpc})
	default:
		return nil, fmt.Errorf("unknown wallet mode %q", pc.WalletMode)
	}
}

// advertise announces the gateway over mDNS once it is listening.
func advertise(ctx context.Context, cfg *config.Config, gw *gateway.Server, log *slog.Logger) {
	select {
	case <-gw.Ready():
	case <-ctx.Done():
		return
	case <-time.After(10 * time.Second):
		log.Warn("gateway not ready, skipping mdns advertisement")
		return
	}
	_, portStr, err := net.SplitHostPort(gw.BoundAddr())
	if err != nil {
		log.Warn("mdns advertise: bad gateway address", "addr", gw.BoundAddr(), "error", err)
		return
	}
	port, _ := strconv.Atoi(portStr)
	ann := domain.ProviderAnnouncement{
		ProviderID:         cfg.Provider.ID,
		SupportedProtocols: protocol.SupportedProtocols(),
		FriendlyName:       cfg.Provider.FriendlyName,
		ChainName:          cfg.Provider.ChainName,
	}
	if err := discovery.New(cfg.Discovery, log).Advertise(ctx, cfg.Provider.ID, port, ann); err != nil {
		log.Warn("mdns advertise failed", "error", err)
	}
}
