package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/soypat/nettap/nettun"
	"github.com/soypat/nettap/stack"
	"github.com/soypat/nettap/stackcfg"
)

func newRunCmd(configPath *string) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the stack and serve until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), *configPath, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "set debug logging level")
	return cmd
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// tapPrefix derives the netip.Prefix passed to the kernel's "ip addr add"
// from the dotted-quad address/mask pair used throughout the configuration.
func tapPrefix(address, mask string) (netip.Prefix, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("address %q: %w", address, err)
	}
	maskAddr, err := netip.ParseAddr(mask)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("mask %q: %w", mask, err)
	}
	bits := 0
	for _, b := range maskAddr.As4() {
		for i := 7; i >= 0; i-- {
			if b&(1<<uint(i)) == 0 {
				return netip.PrefixFrom(addr, bits), nil
			}
			bits++
		}
	}
	return netip.PrefixFrom(addr, bits), nil
}

func runDaemon(ctx context.Context, configPath string, verbose bool) error {
	logger := newLogger(verbose)

	cfg, err := stackcfg.Load(configPath)
	if err != nil {
		return fmt.Errorf("nettapd: load config: %w", err)
	}
	mac, err := cfg.ParseMAC()
	if err != nil {
		return err
	}
	candidates := make([]stack.Candidate, 0, len(cfg.Candidates))
	for _, c := range cfg.Candidates {
		addr, err := netip.ParseAddr(c.Address)
		if err != nil {
			return fmt.Errorf("nettapd: candidate address %q: %w", c.Address, err)
		}
		mask, err := netip.ParseAddr(c.Mask)
		if err != nil {
			return fmt.Errorf("nettapd: candidate mask %q: %w", c.Mask, err)
		}
		candidates = append(candidates, stack.Candidate{Addr: addr, Mask: mask})
	}

	firstAddr, err := tapPrefix(cfg.Candidates[0].Address, cfg.Candidates[0].Mask)
	if err != nil {
		return fmt.Errorf("nettapd: derive tap prefix: %w", err)
	}
	tap, err := nettun.Open(cfg.Interface, firstAddr)
	if err != nil {
		return fmt.Errorf("nettapd: open tap %q: %w", cfg.Interface, err)
	}
	defer tap.Close()

	reg := prometheus.NewRegistry()
	metrics := stack.NewMetrics(reg)

	st, err := stack.New(stack.Config{
		MAC:        mac,
		Candidates: candidates,
		MTU:        cfg.MTU,
		Policy: stack.Policy{
			ARPUpdateFromDirectRequest: cfg.Policy.ARPUpdateFromDirectRequest,
			ARPUpdateFromGratuitous:    cfg.Policy.ARPUpdateFromGratuitous,
			ARPBypassOnResponse:        cfg.Policy.ARPBypassOnResponse,
		},
		Clock:   clockwork.NewRealClock(),
		Logger:  logger,
		Metrics: metrics,
	}, tap)
	if err != nil {
		return fmt.Errorf("nettapd: create stack: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		logger.Info("metrics server listening", slog.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", slog.String("err", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("nettapd starting", slog.String("interface", cfg.Interface), slog.Int("mtu", cfg.MTU))
	if err := st.Run(ctx); err != nil {
		return fmt.Errorf("nettapd: stack exited: %w", err)
	}
	logger.Info("nettapd stopped")
	return nil
}
