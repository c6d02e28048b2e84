// Package logger builds the process slog.Logger from configuration.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"walletbridge/internal/infra/config"
)

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// secretKeys are attribute keys whose values never reach the log.
var secretKeys = map[string]bool{
	"token":    true,
	"password": true,
	"auth":     true,
}

// New returns the bridge logger and a closer for its output. Every record
// carries service=walletbridge.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	out, err := open(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output %q: %w", cfg.Output, err)
	}
	log := slog.New(newHandler(out, cfg)).With("service", "walletbridge")
	return log, out.Close, nil
}

func newHandler(w io.Writer, cfg config.LoggerConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: level(cfg.Level), ReplaceAttr: replaceAttr}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// level maps a configured name to a slog level. Unknown names log at info.
func level(name string) slog.Level {
	if l, ok := levels[strings.ToLower(name)]; ok {
		return l
	}
	return slog.LevelInfo
}

// replaceAttr masks secrets and renders chain integers (addresses,
// balances) as 0x hex.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[redacted]")
	}
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	if v, ok := a.Value.Any().(*big.Int); ok && v != nil {
		return slog.String(a.Key, "0x"+v.Text(16))
	}
	return a
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// open resolves stdout, stderr (the default) or a file path appended to.
func open(output string) (io.WriteCloser, error) {
	switch strings.ToLower(output) {
	case "", "stderr":
		return nopCloser{os.Stderr}, nil
	case "stdout":
		return nopCloser{os.Stdout}, nil
	}
	return os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}
