package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"walletbridge/internal/adapter/discovery"
	"walletbridge/internal/domain"
	"walletbridge/internal/usecase/eventbus"
	"walletbridge/internal/usecase/scheduling"
	"walletbridge/pkg/walletsdk"
)

var (
	discoverWait  time.Duration
	discoverWatch bool
	discoverEvery string
	discoverLAN   bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "List wallet providers reachable through a gateway",
	Long: `discover broadcasts a client announcement and prints every provider that
answers within --wait. With --watch it keeps listening and re-broadcasts on
client.rediscover_schedule (or --every). With --lan it lists gateways
advertised over mDNS instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if discoverLAN {
			return runDiscoverLAN(ctx, cmd)
		}
		if discoverWatch {
			return runDiscoverWatch(ctx, cmd)
		}

		ctx, cancel := context.WithTimeout(ctx, discoverWait+requestTimeout())
		defer cancel()
		surface, closeSurface, err := clientSurface(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer closeSurface()

		sdk, err := walletsdk.NewClient(ctx, surface, clientOptions(cfg.Client, log)...)
		if err != nil {
			return err
		}
		defer sdk.Close()

		select {
		case <-time.After(discoverWait):
		case <-ctx.Done():
		}
		return printProviders(cmd.OutOrStdout(), sdk.Providers())
	},
}

func runDiscoverLAN(ctx context.Context, cmd *cobra.Command) error {
	gateways, err := discovery.New(cfg.Discovery, log).Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), gateways)
	}
	for _, g := range gateways {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s (%s)\n", g.Instance, g.URL(), g.FriendlyName, g.ProviderID)
	}
	return nil
}

func runDiscoverWatch(ctx context.Context, cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	surface, closeSurface, err := clientSurface(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSurface()

	bus := eventbus.New(log)
	defer bus.Close()
	out := cmd.OutOrStdout()
	bus.Subscribe(domain.EventProviderAnnounced, func(_ context.Context, e domain.Event) {
		var a domain.ProviderAnnouncement
		if err := json.Unmarshal(e.Payload, &a); err != nil {
			return
		}
		if jsonOutput {
			printJSON(out, a)
			return
		}
		fmt.Fprintf(out, "%s  %s  %s  %s\n", e.Timestamp.Format(time.RFC3339), a.ProviderID, a.FriendlyName, a.ChainName)
	})

	sdk, err := walletsdk.NewClient(ctx, surface, clientOptions(cfg.Client, log, walletsdk.WithEventBus(bus))...)
	if err != nil {
		return err
	}
	defer sdk.Close()

	sched := scheduling.NewScheduler(log)
	sdk.RegisterActions(sched, cfg.Client.PendingTTL)
	housekeeping := cfg.Client
	if discoverEvery != "" {
		housekeeping.RediscoverSchedule = discoverEvery
	}
	for _, task := range scheduling.FromConfig(housekeeping) {
		if err := sched.AddTask(task); err != nil {
			return err
		}
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	<-ctx.Done()
	return nil
}

func init() {
	f := discoverCmd.Flags()
	f.DurationVar(&discoverWait, "wait", 2*time.Second, "how long to collect announcements")
	f.BoolVar(&discoverWatch, "watch", false, "keep printing announcements until interrupted")
	f.StringVar(&discoverEvery, "every", "", "rediscovery schedule for --watch (cron spec or duration)")
	f.BoolVar(&discoverLAN, "lan", false, "list gateways advertised over mDNS")
	rootCmd.AddCommand(discoverCmd)
}
