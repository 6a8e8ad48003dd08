package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/btscan/btscan/agent/internal/config"
	"github.com/btscan/btscan/pkg/telemetry"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
)

// ErrBackingOff is returned by Flush while the shipper waits out the backoff
// after a failed push. The batch is discarded without dialling.
var ErrBackingOff = errors.New("shipper: backing off after failed push")

// Shipper is a sink.Sink that pushes each flushed batch to btscan-server in
// one unary Telemetry/Push call.
//
// Record only appends to the pending batch. Flush sends it and, on failure,
// drops it: the station cache keeps changed entries dirty and re-records them
// on the next sweep, so the shipper never retries in place.
type Shipper struct {
	cfg    config.SinkConfig
	agent  string
	dialFn dialFunc         // injectable for tests
	now    func() time.Time // injectable for tests

	mu      sync.Mutex
	pending []telemetry.Record

	// flushMu serialises Flush; conn, client, bo and retryAt are guarded by it.
	flushMu sync.Mutex
	conn    *grpc.ClientConn
	client  telemetry.TelemetryClient
	bo      *backoff
	retryAt time.Time
}

// dialFunc is the function signature used to open a gRPC connection.
// Abstracted so tests can point the shipper at an in-process server.
type dialFunc func(ctx context.Context, endpoint string, cfg config.SinkConfig) (*grpc.ClientConn, error)

// New creates a Shipper for one grpc sink entry. agent identifies this host
// in every PushRequest. The connection is opened on the first Flush.
func New(cfg config.SinkConfig, agent string) *Shipper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultSinkTimeout
	}
	return &Shipper{
		cfg:    cfg,
		agent:  agent,
		dialFn: defaultDial,
		now:    time.Now,
		bo:     newBackoff(),
	}
}

// Record appends one record to the pending batch.
func (s *Shipper) Record(path string, v telemetry.Value) {
	s.mu.Lock()
	s.pending = append(s.pending, telemetry.Record{Path: path, Value: v})
	s.mu.Unlock()
}

// Flush pushes the pending batch. Within the backoff window after a failure
// it returns ErrBackingOff immediately.
func (s *Shipper) Flush(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if now := s.now(); now.Before(s.retryAt) {
		slog.Debug("shipper: backing off, dropping batch",
			"records", len(batch), "retry_in", s.retryAt.Sub(now))
		return ErrBackingOff
	}
	if len(batch) == 0 {
		return nil
	}

	if err := s.push(ctx, batch); err != nil {
		wait := s.bo.next()
		s.retryAt = s.now().Add(wait)
		if isPermanentError(err) {
			slog.Error("shipper: permanent push error, discarding batch",
				"endpoint", s.cfg.Endpoint, "records", len(batch), "err", err)
		} else {
			slog.Warn("shipper: push failed, will retry on next flush",
				"endpoint", s.cfg.Endpoint, "records", len(batch), "err", err, "retry_in", wait)
		}
		return err
	}

	s.bo.reset()
	return nil
}

func (s *Shipper) push(ctx context.Context, batch []telemetry.Record) error {
	if s.client == nil {
		conn, err := s.dialFn(ctx, s.cfg.Endpoint, s.cfg)
		if err != nil {
			return fmt.Errorf("shipper: dial %s: %w", s.cfg.Endpoint, err)
		}
		slog.Info("shipper: connected", "endpoint", s.cfg.Endpoint)
		s.conn = conn
		s.client = telemetry.NewTelemetryClient(conn)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	// Inject API key header if configured.
	if s.cfg.Auth.Mode == "apikey" && s.cfg.Auth.KeyEnv != "" {
		sendCtx = metadata.AppendToOutgoingContext(sendCtx, s.cfg.Auth.Header, s.cfg.Auth.Key())
	}

	var opts []grpc.CallOption
	if s.cfg.Compression == telemetry.CompressorName {
		opts = append(opts, grpc.UseCompressor(telemetry.CompressorName))
	}

	req := toRequest(s.agent, batch, s.now())
	resp, err := s.client.Push(sendCtx, req, opts...)
	if err != nil {
		return fmt.Errorf("shipper: push: %w", err)
	}
	if !resp.Ok {
		return fmt.Errorf("shipper: server rejected batch %s: %s", req.BatchID, resp.Message)
	}
	slog.Debug("shipper: batch delivered",
		"batch", req.BatchID, "records", len(batch), "accepted", resp.Accepted)
	return nil
}

// Close closes the client connection, if any.
func (s *Shipper) Close() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn, s.client = nil, nil
	return err
}

// isPermanentError returns true for gRPC errors that indicate the batch
// itself or the credentials are invalid, so retrying cannot help.
func isPermanentError(err error) bool {
	code := status.Code(err)
	switch code {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
// The connection is established lazily by the first RPC.
func defaultDial(ctx context.Context, endpoint string, cfg config.SinkConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // deprecated in 1.63 but DialContext is used for compat
}

// dialOptions builds grpc.DialOption slice based on the sink auth config.
func dialOptions(cfg config.SinkConfig) ([]grpc.DialOption, error) {
	switch cfg.Auth.Mode {
	case "mtls":
		creds, err := buildMTLSCreds(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(creds)}, nil

	default: // "apikey", "none" or empty; the key travels as call metadata
		return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
	}
}

// buildMTLSCreds loads client certificate and optional CA from the auth config.
func buildMTLSCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return credentials.NewTLS(tlsCfg), nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	// Advance for next call.
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
