package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/btscan/btscan/agent/internal/atclient"
	"github.com/btscan/btscan/agent/internal/config"
	"github.com/btscan/btscan/agent/internal/logging"
	"github.com/btscan/btscan/agent/internal/metrics"
	"github.com/btscan/btscan/agent/internal/pipeline"
	"github.com/btscan/btscan/agent/internal/security"
	"github.com/btscan/btscan/agent/internal/shipper"
	"github.com/btscan/btscan/agent/internal/sink"
	"github.com/btscan/btscan/agent/internal/station"
)

func main() {
	flags := pflag.NewFlagSet("btscan-agent", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.yaml", "path to config file")
	dump := flags.Bool("dump", false, "run one scan and one sweep, print the records as JSON and exit")
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

	logger, level, logCloser := logging.New(cfg.Agent.Log)
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("btscan-agent starting",
		"config", *configPath,
		"agent", cfg.Agent.Name,
		"device", cfg.Agent.Device.Path,
		"replay_file", cfg.Agent.Device.ReplayFile,
		"sinks", len(cfg.Agent.Sinks),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src, srcCloser, err := openSource(ctx, cfg.Agent.Device, !*dump)
	if err != nil {
		slog.Error("failed to open scan source", "err", err)
		os.Exit(1)
	}
	defer srcCloser.Close()

	cache := station.New(
		station.WithCapacity(cfg.Agent.Aging.Capacity),
		station.WithPrefix(cfg.Agent.Aging.Prefix),
	)
	m := metrics.New()
	opts := pipeline.Options{
		ScanInterval:  cfg.Agent.Device.ScanInterval,
		SweepInterval: cfg.Agent.Aging.SweepInterval,
		MaxAge:        cfg.Agent.Aging.MaxAge,
	}

	if *dump {
		if err := runDump(ctx, src, cache, m, opts, os.Stdout); err != nil {
			slog.Error("dump failed", "err", err)
			os.Exit(1)
		}
		return
	}

	sinks, closers := buildSinks(cfg.Agent)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	runner := pipeline.New(src, cache, sink.Multi(sinks...), m, opts)

	if addr := cfg.Agent.Metrics.Listen; addr != "" {
		go serveMetrics(ctx, addr, m)
	}
	go watchCerts(ctx, cfg.Agent.Sinks, m)

	// Watch config file for hot-reload of log level and max age.
	go func() {
		if err := config.Watch(ctx, *configPath, cfg, func(ch config.Change) {
			next := ch.Config.Agent
			for _, key := range ch.Applied {
				switch key {
				case config.KeyLogLevel:
					if l, err := logging.ParseLevel(next.Log.Level); err == nil {
						level.Set(l)
					}
				case config.KeyMaxAge:
					runner.SetMaxAge(next.Aging.MaxAge)
				}
			}
			slog.Info("config hot-reloaded",
				"applied", ch.Applied,
				"log_level", next.Log.Level,
				"max_age", runner.MaxAge())
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	if err := runner.Run(ctx); err != nil {
		slog.Error("pipeline stopped", "err", err)
	}
	slog.Info("btscan-agent shutting down")
}

// openSource returns the replay file when configured, otherwise the
// initialised radio.
func openSource(ctx context.Context, dev config.DeviceConfig, loop bool) (pipeline.Source, io.Closer, error) {
	if dev.ReplayFile != "" {
		r, err := pipeline.OpenReplay(dev.ReplayFile, loop)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("replaying capture", "file", dev.ReplayFile, "scans", r.Len())
		return r, nopCloser{}, nil
	}

	tty, err := atclient.Open(dev.Path, dev.Baud)
	if err != nil {
		return nil, nil, err
	}
	sess := atclient.NewSession(tty, dev.CommandTimeout)
	if err := sess.Init(ctx); err != nil {
		sess.Close()
		return nil, nil, err
	}
	return atclient.Scanner{Session: sess, Command: dev.ScanCommand}, sess, nil
}

// buildSinks creates one sink per config entry. Closers are returned for the
// sinks that hold connections.
func buildSinks(cfg config.AgentConfig) ([]sink.Sink, []io.Closer) {
	var (
		sinks   []sink.Sink
		closers []io.Closer
	)
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "grpc":
			s := shipper.New(sc, cfg.Name)
			sinks = append(sinks, s)
			closers = append(closers, s)
		case "textfile":
			sinks = append(sinks, sink.NewTextfile(sc.Path))
		case "log":
			sinks = append(sinks, sink.NewLog(slog.Default()))
		}
		slog.Info("registered sink", "type", sc.Type, "endpoint", sc.Endpoint, "path", sc.Path)
	}
	return sinks, closers
}

// certCheckInterval is how often mTLS sink certificates are re-inspected.
const certCheckInterval = 12 * time.Hour

// watchCerts reports the client and server certificates of every mTLS sink
// now and then every certCheckInterval until ctx is done.
func watchCerts(ctx context.Context, sinks []config.SinkConfig, m *metrics.Metrics) {
	var mtls []config.SinkConfig
	for _, sc := range sinks {
		if sc.Type == "grpc" && sc.Auth.Mode == "mtls" {
			mtls = append(mtls, sc)
		}
	}
	if len(mtls) == 0 {
		return
	}

	t := time.NewTicker(certCheckInterval)
	defer t.Stop()
	for {
		for _, sc := range mtls {
			checkCerts(ctx, sc, m)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func checkCerts(ctx context.Context, sc config.SinkConfig, m *metrics.Metrics) {
	now := time.Now()
	report := func(cs security.CertStatus) {
		if cs.Status == security.StatusUnreachable {
			slog.Warn("cert check: endpoint unreachable", "source", cs.Source)
			return
		}
		m.CertDaysLeft.WithLabelValues(cs.Source).Set(float64(cs.DaysLeft))
		attrs := []any{"source", cs.Source, "status", cs.Status, "days_left", cs.DaysLeft, "not_after", cs.NotAfter}
		if cs.Expiring() {
			slog.Warn("cert check: certificate expiring", attrs...)
		} else {
			slog.Debug("cert check: certificate ok", attrs...)
		}
	}

	if cs, err := security.CheckFile(sc.Auth.CertFile, now); err != nil {
		slog.Warn("cert check failed", "file", sc.Auth.CertFile, "err", err)
	} else {
		report(cs)
	}
	if cs, err := security.CheckEndpoint(ctx, sc.Endpoint, nil, now); err != nil {
		slog.Warn("cert check failed", "endpoint", sc.Endpoint, "err", err)
	} else {
		report(cs)
	}
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	slog.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("metrics server error", "err", err)
	}
}

// runDump runs one scan and one sweep into a Recorder and writes the records
// to w as a JSON array.
func runDump(ctx context.Context, src pipeline.Source, cache *station.Cache, m *metrics.Metrics, opts pipeline.Options, w io.Writer) error {
	rec := sink.NewRecorder()
	r := pipeline.New(src, cache, rec, m, opts)
	defer cache.Shutdown()

	if _, err := r.ScanOnce(ctx); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if _, err := r.SweepOnce(ctx); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	type record struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}
	out := make([]record, 0, len(rec.Last()))
	for _, rc := range rec.Last() {
		out = append(out, record{Path: rc.Path, Value: rc.Value.Interface()})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
