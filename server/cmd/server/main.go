package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"github.com/btscan/btscan/pkg/telemetry"
	"github.com/btscan/btscan/server/internal/alerts"
	"github.com/btscan/btscan/server/internal/api"
	"github.com/btscan/btscan/server/internal/auth"
	"github.com/btscan/btscan/server/internal/config"
	"github.com/btscan/btscan/server/internal/history"
	"github.com/btscan/btscan/server/internal/receiver"
	"github.com/btscan/btscan/server/internal/store"
	"github.com/btscan/btscan/server/internal/ws"
)

func main() {
	flags := pflag.NewFlagSet("btscan-server", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.yaml", "path to config file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := alerts.Validate(cfg.Server.Alerts); err != nil {
		slog.Error("invalid alert rules", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	slog.Info("btscan-server starting",
		"config", *configPath,
		"grpc_port", cfg.Server.GRPCPort,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"station_ttl", cfg.Server.Stations.TTL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(cfg.Server.Stations.TTL)
	go st.Run(ctx)

	alertEngine := alerts.New(cfg.Server.Alerts)
	recvOpts := []receiver.Option{receiver.WithEvaluator(alertEngine)}
	apiOpts := []api.Option{api.WithAlerts(alertEngine)}

	if dsn := cfg.Server.History.DSN(); dsn != "" {
		db, err := history.Open(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to history database", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		hw := history.New(db, cfg.Server.History.BatchSize)
		if err := hw.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare history schema", "err", err)
			os.Exit(1)
		}
		recvOpts = append(recvOpts, receiver.WithHistory(hw))
		apiOpts = append(apiOpts, api.WithHistory(hw))
		slog.Info("history enabled", "batch_size", cfg.Server.History.BatchSize)
	}

	header := cfg.Server.Auth.EffectiveHeader()
	key := cfg.Server.Auth.Key()

	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(
		auth.APIKeyInterceptor(cfg.Server.Auth.Mode, header, key),
	))
	telemetry.RegisterTelemetryServer(grpcSrv, receiver.New(st, recvOpts...))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		slog.Error("failed to listen on gRPC port", "port", cfg.Server.GRPCPort, "err", err)
		os.Exit(1)
	}
	go func() {
		slog.Info("gRPC receiver listening", "port", cfg.Server.GRPCPort)
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server stopped", "err", err)
		}
	}()

	authMW := auth.APIKeyMiddleware(cfg.Server.Auth.Mode, header, key)
	apiHandler := api.New(st, append(apiOpts, api.WithMiddleware(authMW))...)

	hub := ws.New(apiHandler, cfg.Server.BroadcastInterval)
	go hub.Run(ctx)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", apiHandler)
	httpMux.Handle("/ws/stream", authMW(hub))
	httpMux.Handle("/metrics", promhttp.HandlerFor(newRegistry(st, hub), promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("btscan-server shutting down")
	grpcSrv.GracefulStop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// newRegistry exposes store and hub sizes alongside the Go runtime collectors.
func newRegistry(st *store.Store, hub *ws.Hub) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "btscan_server",
			Name:      "stations",
			Help:      "Stations held in the store, including stale ones not yet evicted.",
		}, func() float64 { return float64(st.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "btscan_server",
			Name:      "agents",
			Help:      "Agents that pushed within the station TTL.",
		}, func() float64 { return float64(len(st.Agents())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "btscan_server",
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients.",
		}, func() float64 { return float64(hub.Count()) }),
	)
	return reg
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
