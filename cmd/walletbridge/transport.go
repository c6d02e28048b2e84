package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"walletbridge/internal/adapter/discovery"
	"walletbridge/internal/infra/config"
	"walletbridge/internal/transport"
)

// openRedis joins the redis pub/sub surface described by rc.
func openRedis(ctx context.Context, rc config.RedisConfig, logger *slog.Logger) (transport.Transport, func(), error) {
	rdb := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	r, err := transport.NewRedis(ctx, transport.NewGoRedisPubSub(rdb), rc.Channel, logger)
	if err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("redis transport: %w", err)
	}
	return r, func() {
		r.Close()
		rdb.Close()
	}, nil
}

func dialGateway(ctx context.Context, url string, tc config.TransportConfig, logger *slog.Logger) (transport.Transport, func(), error) {
	var opts []transport.DialOption
	if tc.TargetOrigin != "" && tc.TargetOrigin != "*" {
		opts = append(opts, transport.WithOrigin(tc.TargetOrigin))
	}
	port, err := transport.DialPort(ctx, url, tc.Token, logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	return port, func() { port.Close() }, nil
}

// serveSurface is the surface the provider is put on. With the memory kind
// it is a local window only the gateway relays to.
func serveSurface(ctx context.Context, c *config.Config, logger *slog.Logger) (transport.Transport, func(), error) {
	switch c.Transport.Kind {
	case "memory", "":
		w := transport.NewWindow("walletbridge", logger)
		return w, w.Close, nil
	case "redis":
		return openRedis(ctx, c.Transport.Redis, logger)
	case "websocket":
		return dialGateway(ctx, c.Transport.URL, c.Transport, logger)
	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
}

// clientSurface is the surface a dapp command talks over. The memory kind
// means "the local gateway": found over mDNS when enabled, else at
// gateway.addr.
func clientSurface(ctx context.Context, c *config.Config, logger *slog.Logger) (transport.Transport, func(), error) {
	switch c.Transport.Kind {
	case "websocket":
		return dialGateway(ctx, c.Transport.URL, c.Transport, logger)
	case "redis":
		return openRedis(ctx, c.Transport.Redis, logger)
	case "memory", "":
		url, err := localGatewayURL(ctx, c, logger)
		if err != nil {
			return nil, nil, err
		}
		return dialGateway(ctx, url, c.Transport, logger)
	default:
		return nil, nil, fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
}

func localGatewayURL(ctx context.Context, c *config.Config, logger *slog.Logger) (string, error) {
	if c.Discovery.MDNS {
		gateways, err := discovery.New(c.Discovery, logger).Scan(ctx)
		if err != nil {
			return "", fmt.Errorf("scan for gateways: %w", err)
		}
		if len(gateways) > 0 {
			logger.Debug("using discovered gateway", "instance", gateways[0].Instance, "addr", gateways[0].Addr)
			return gateways[0].URL(), nil
		}
	}
	if !c.Gateway.Enabled || c.Gateway.Addr == "" {
		return "", errors.New("no gateway to connect to: pass --url or enable gateway or discovery")
	}
	return discovery.Gateway{Addr: c.Gateway.Addr}.URL(), nil
}
