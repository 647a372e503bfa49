package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_Append(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("astra.trading.tradeexecuted.v1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\("offset"\) \+ 1, 0\)`).
		WithArgs("astra.trading.tradeexecuted.v1", 3).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(7)))
	mock.ExpectExec(`INSERT INTO backbone_events`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	env := Envelope{
		ID:            "01TESTID",
		Topic:         "astra.trading.tradeexecuted.v1",
		Partition:     3,
		PartitionKey:  "order-1",
		CorrelationID: "corr-1",
		ProducedAt:    time.Now().UTC(),
		Payload:       []byte(`{}`),
	}
	stored, err := store.Append(context.Background(), env)
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if stored.Offset != 7 {
		t.Errorf("offset = %d, want 7", stored.Offset)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_Read(t *testing.T) {
	store, mock := newMockStore(t)

	producedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"offset", "id", "partition_key", "correlation_id", "causation_id", "produced_at", "payload",
	}).
		AddRow(int64(4), "id-4", "order-1", "corr-4", "", producedAt, []byte(`{"seq":4}`)).
		AddRow(int64(5), "id-5", "order-1", "corr-5", "id-4", producedAt, []byte(`{"seq":5}`))
	mock.ExpectQuery(`SELECT "offset", id, partition_key`).
		WithArgs("astra.trading.tradeexecuted.v1", 0, int64(4), 2).
		WillReturnRows(rows)

	got, err := store.Read(context.Background(), "astra.trading.tradeexecuted.v1", 0, 4, 2)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d envelopes, want 2", len(got))
	}
	if got[0].Offset != 4 || got[1].Offset != 5 {
		t.Errorf("offsets = %d, %d, want 4, 5", got[0].Offset, got[1].Offset)
	}
	if got[1].CausationID != "id-4" {
		t.Errorf("causation ID = %q, want id-4", got[1].CausationID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_LoadCursor_NoRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT acked_offset FROM backbone_cursors`).
		WithArgs("projections", "astra.trading.tradeexecuted.v1", 0).
		WillReturnRows(sqlmock.NewRows([]string{"acked_offset"}))

	cur, err := store.LoadCursor(context.Background(), "projections", "astra.trading.tradeexecuted.v1", 0)
	if err != nil {
		t.Fatalf("LoadCursor error: %v", err)
	}
	if cur != CursorNone {
		t.Errorf("cursor = %d, want %d for a group with no acks", cur, CursorNone)
	}
}

func TestPostgresStore_SaveCursor(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO backbone_cursors`).
		WithArgs("projections", "astra.trading.tradeexecuted.v1", 0, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SaveCursor(context.Background(), "projections", "astra.trading.tradeexecuted.v1", 0, 9); err != nil {
		t.Fatalf("SaveCursor error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
