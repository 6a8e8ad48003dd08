package receiver

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/btscan/btscan/pkg/telemetry"
	"github.com/btscan/btscan/server/internal/store"
)

// HistoryWriter persists the records of an accepted push.
type HistoryWriter interface {
	Write(ctx context.Context, batchID, agent string, receivedAt time.Time, records []telemetry.Record) error
}

// Evaluator is told about the agent stats after every accepted push.
type Evaluator interface {
	Evaluate(st store.AgentStats)
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithHistory persists every accepted batch through h.
func WithHistory(h HistoryWriter) Option {
	return func(r *Receiver) { r.history = h }
}

// WithEvaluator runs ev against the pushing agent's stats.
func WithEvaluator(ev Evaluator) Option {
	return func(r *Receiver) { r.alerts = ev }
}

// Receiver implements telemetry.TelemetryServer.
// It validates each incoming batch and folds it into the station store.
type Receiver struct {
	store   *store.Store
	history HistoryWriter
	alerts  Evaluator
	now     func() time.Time
}

// New creates a Receiver that writes accepted batches to st.
func New(st *store.Store, opts ...Option) *Receiver {
	r := &Receiver{store: st, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Push is the unary RPC handler called by btscan-agent instances.
// Authentication is enforced by the gRPC server interceptor before this is called.
func (r *Receiver) Push(ctx context.Context, req *telemetry.PushRequest) (*telemetry.PushResponse, error) {
	if req.Agent == "" {
		return nil, status.Error(codes.InvalidArgument, "agent is required")
	}
	if len(req.Records) == 0 {
		return nil, status.Error(codes.InvalidArgument, "batch has no records")
	}

	accepted := r.store.Apply(req.Agent, req.BatchID, req.Records)

	if r.history != nil {
		if err := r.history.Write(ctx, req.BatchID, req.Agent, r.now(), req.Records); err != nil {
			slog.Error("receiver: history write failed",
				"agent", req.Agent,
				"batch_id", req.BatchID,
				"err", err,
			)
		}
	}
	if r.alerts != nil {
		if st, ok := r.store.Agent(req.Agent); ok {
			r.alerts.Evaluate(st)
		}
	}

	slog.Debug("receiver: batch applied",
		"agent", req.Agent,
		"batch_id", req.BatchID,
		"records", len(req.Records),
		"accepted", accepted,
	)

	return &telemetry.PushResponse{Ok: true, Accepted: accepted}, nil
}
