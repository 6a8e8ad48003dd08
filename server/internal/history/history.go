package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/btscan/btscan/pkg/telemetry"
)

// DriverName is the database/sql driver registered by lib/pq.
const DriverName = "postgres"

const defaultBatchSize = 500

// columns per inserted row.
const columns = 9

// maxBatchSize keeps one INSERT within the 65535 bind parameters Postgres
// accepts.
const maxBatchSize = 65535 / columns

// ErrNoSchema is returned by Write when the history table does not exist.
var ErrNoSchema = errors.New("history: table telemetry_history does not exist")

const schema = `CREATE TABLE IF NOT EXISTS telemetry_history (
	id          BIGSERIAL PRIMARY KEY,
	batch_id    TEXT NOT NULL,
	agent       TEXT NOT NULL,
	path        TEXT NOT NULL,
	kind        SMALLINT NOT NULL,
	int_value   BIGINT,
	float_value DOUBLE PRECISION,
	bool_value  BOOLEAN,
	text_value  TEXT,
	received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS telemetry_history_path_idx ON telemetry_history (path, received_at DESC)`

// Row is one stored record.
type Row struct {
	BatchID    string          `json:"batch_id"`
	Agent      string          `json:"agent"`
	Path       string          `json:"path"`
	Value      telemetry.Value `json:"value"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Writer stores records in Postgres. It is safe for concurrent use.
type Writer struct {
	db        *sql.DB
	batchSize int
}

// New returns a Writer over db. batchSize <= 0 selects the default of 500.
func New(db *sql.DB, batchSize int) *Writer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}
	return &Writer{db: db, batchSize: batchSize}
}

// Open connects to the Postgres DSN and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the history table and its index if missing.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("history: ensure schema: %w", err)
	}
	return nil
}

// Write inserts records of one push in a single transaction.
func (w *Writer) Write(ctx context.Context, batchID, agent string, receivedAt time.Time, records []telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	for start := 0; start < len(records); start += w.batchSize {
		end := start + w.batchSize
		if end > len(records) {
			end = len(records)
		}
		query, args := buildInsert(batchID, agent, receivedAt.UTC(), records[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("history: insert: %w", classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

func buildInsert(batchID, agent string, receivedAt time.Time, batch []telemetry.Record) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO telemetry_history (batch_id, agent, path, kind, int_value, float_value, bool_value, text_value, received_at) VALUES ")

	args := make([]any, 0, len(batch)*columns)
	for i, r := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i*columns + 1
		sb.WriteString("(")
		for c := 0; c < columns; c++ {
			if c > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "$%d", base+c)
		}
		sb.WriteString(")")

		iv, fv, bv, tv := valueArgs(r.Value)
		args = append(args, batchID, agent, r.Path, int64(r.Value.Kind), iv, fv, bv, tv, receivedAt)
	}
	return sb.String(), args
}

// valueArgs returns the typed column values for v; unused columns are NULL.
func valueArgs(v telemetry.Value) (iv, fv, bv, tv any) {
	switch v.Kind {
	case telemetry.KindInt:
		iv = v.Int
	case telemetry.KindFloat:
		fv = v.Float
	case telemetry.KindBool:
		bv = v.Bool
	case telemetry.KindString:
		tv = v.Str
	}
	return
}

// classify maps a missing-table error to ErrNoSchema.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
		return fmt.Errorf("%w: %v", ErrNoSchema, pqErr.Message)
	}
	return err
}

// Recent returns up to limit of the newest rows recorded for the station
// with the given 12-hex-digit address, newest first.
func (w *Writer) Recent(ctx context.Context, address string, limit int) ([]Row, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT batch_id, agent, path, kind, int_value, float_value, bool_value, text_value, received_at FROM telemetry_history WHERE path LIKE $1 ORDER BY received_at DESC, id DESC LIMIT $2`,
		"%."+address+".%", limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r    Row
			kind int64
			iv   sql.NullInt64
			fv   sql.NullFloat64
			bv   sql.NullBool
			tv   sql.NullString
		)
		if err := rows.Scan(&r.BatchID, &r.Agent, &r.Path, &kind, &iv, &fv, &bv, &tv, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Value = telemetry.Value{
			Kind:  telemetry.Kind(kind),
			Int:   iv.Int64,
			Float: fv.Float64,
			Bool:  bv.Bool,
			Str:   tv.String,
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return out, nil
}
