package history

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/btscan/btscan/pkg/telemetry"
)

const insertPrefix = "INSERT INTO telemetry_history (batch_id, agent, path, kind, int_value, float_value, bool_value, text_value, received_at) VALUES "

var received = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func records() []telemetry.Record {
	return []telemetry.Record{
		{Path: "BTScan.29db3ccd015a.rssi", Value: telemetry.Int(-53)},
		{Path: "BTScan.29db3ccd015a.data", Value: telemetry.String("Hv8G")},
		{Path: "BTScan.stats.stations.count", Value: telemetry.Int(1)},
	}
}

func TestWriteSingleStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertPrefix+"($1,$2,$3,$4,$5,$6,$7,$8,$9),($10,$11,$12,$13,$14,$15,$16,$17,$18),($19,$20,$21,$22,$23,$24,$25,$26,$27)")).
		WithArgs(
			"b1", "gw-01", "BTScan.29db3ccd015a.rssi", int64(telemetry.KindInt), int64(-53), nil, nil, nil, received,
			"b1", "gw-01", "BTScan.29db3ccd015a.data", int64(telemetry.KindString), nil, nil, nil, "Hv8G", received,
			"b1", "gw-01", "BTScan.stats.stations.count", int64(telemetry.KindInt), int64(1), nil, nil, nil, received,
		).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	w := New(db, 10)
	if err := w.Write(context.Background(), "b1", "gw-01", received, records()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWriteSplitsBatches(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	two := insertPrefix + "($1,$2,$3,$4,$5,$6,$7,$8,$9),($10,$11,$12,$13,$14,$15,$16,$17,$18)"
	one := insertPrefix + "($1,$2,$3,$4,$5,$6,$7,$8,$9)"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(two) + "$").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(one) + "$").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := New(db, 2)
	if err := w.Write(context.Background(), "b1", "gw-01", received, records()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNewClampsBatchSize(t *testing.T) {
	w := New(nil, 100_000)
	if w.batchSize*columns > 65535 {
		t.Errorf("batchSize = %d: %d parameters per statement exceeds 65535", w.batchSize, w.batchSize*columns)
	}
	if w.batchSize != maxBatchSize {
		t.Errorf("batchSize = %d, want %d", w.batchSize, maxBatchSize)
	}
}

func TestWriteEmptyIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	if err := New(db, 0).Write(context.Background(), "b1", "gw-01", received, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWriteRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertPrefix)).
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "telemetry_history" does not exist`})
	mock.ExpectRollback()

	err = New(db, 10).Write(context.Background(), "b1", "gw-01", received, records())
	if !errors.Is(err, ErrNoSchema) {
		t.Fatalf("Write error = %v, want ErrNoSchema", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS telemetry_history")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := New(db, 0).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	cols := []string{"batch_id", "agent", "path", "kind", "int_value", "float_value", "bool_value", "text_value", "received_at"}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT batch_id, agent, path, kind, int_value, float_value, bool_value, text_value, received_at FROM telemetry_history WHERE path LIKE $1")).
		WithArgs("%.29db3ccd015a.%", 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("b2", "gw-01", "BTScan.29db3ccd015a.rssi", int64(telemetry.KindInt), int64(-60), nil, nil, nil, received).
			AddRow("b1", "gw-01", "BTScan.29db3ccd015a.data", int64(telemetry.KindString), nil, nil, nil, "Hv8G", received.Add(-time.Minute)))

	rows, err := New(db, 0).Recent(context.Background(), "29db3ccd015a", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Recent: got %d rows, want 2", len(rows))
	}
	if rows[0].Value != telemetry.Int(-60) {
		t.Errorf("rows[0].Value = %v, want -60", rows[0].Value)
	}
	if rows[1].Value != telemetry.String("Hv8G") {
		t.Errorf("rows[1].Value = %v, want \"Hv8G\"", rows[1].Value)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
