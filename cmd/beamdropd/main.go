// Command beamdropd runs the out-of-band signaling room server: the
// pub/sub hub spec.md §1 calls an external collaborator, plus the
// /api/config endpoint the teacher's server exposes for STUN server
// discovery (SPEC_FULL's supplemented features). Grounded on the
// teacher's root main.go, rebuilt on gorilla/mux instead of
// net/http's bare DefaultServeMux and wired with cobra/pflag flags
// instead of the teacher's flag.String calls.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/beamdrop/engine/internal/config"
	"github.com/beamdrop/engine/internal/logging"
	"github.com/beamdrop/engine/internal/signaling"
	"github.com/beamdrop/engine/internal/tracing"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var addr string
	var metricsAddr string
	var trace bool

	cmd := &cobra.Command{
		Use:   "beamdropd",
		Short: "Signaling room server for beamdrop peer-to-peer file transfer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			return run(cmd.Context(), cfg, trace)
		},
	}

	var flags *pflag.FlagSet = cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&addr, "addr", "", "listen address, e.g. localhost:8089 (overrides config)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "separate address to serve /metrics on; if empty, /metrics is served on the main listener")
	flags.BoolVar(&trace, "trace", false, "emit OpenTelemetry spans to stderr")

	return cmd
}

func run(ctx context.Context, cfg config.Server, traceEnabled bool) error {
	logger := logging.New(os.Stderr, cfg.LogPretty)

	shutdownTracing, err := tracing.Init(ctx, "beamdropd", traceEnabled)
	if err != nil {
		return fmt.Errorf("beamdropd: init tracing: %w", err)
	}
	defer shutdownTracing(ctx)

	room := signaling.NewRoom(logger)
	registry := prometheus.NewRegistry()
	connectedClients := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "beamdropd_connected_clients",
		Help: "Number of WebSocket clients currently registered with the signaling room.",
	}, func() float64 { return float64(room.ClientCount()) })
	registry.MustRegister(connectedClients)

	router := mux.NewRouter()
	router.HandleFunc("/api/config", handleConfig(cfg)).Methods(http.MethodGet)
	router.HandleFunc("/ws", room.ServeWS)
	if cfg.MetricsAddr == "" {
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		logger.LogDebug(fmt.Sprintf("beamdropd: listening on %s", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			logger.LogDebug(fmt.Sprintf("beamdropd: metrics on %s", cfg.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.ShowError(fmt.Sprintf("beamdropd: metrics server: %v", err))
			}
		}()
		defer metricsSrv.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("beamdropd: serve: %w", err)
	case <-sigCh:
		logger.LogDebug("beamdropd: shutting down")
		return srv.Close()
	case <-ctx.Done():
		return srv.Close()
	}
}

// handleConfig serves the STUN server list the teacher's /api/config
// exposes, so cmd/beamdrop isn't built with hardcoded ICE servers.
func handleConfig(cfg config.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			StunServers []string `json:"stunServers"`
		}{StunServers: cfg.StunServers})
	}
}
