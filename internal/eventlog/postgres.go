package eventlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore is a durable Store on database/sql. It expects a Postgres
// connection (the gateway opens it with the lib/pq driver).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the event and cursor tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS backbone_events (
    topic          TEXT        NOT NULL,
    partition      INT         NOT NULL,
    "offset"       BIGINT      NOT NULL,
    id             TEXT        NOT NULL,
    partition_key  TEXT        NOT NULL,
    correlation_id TEXT        NOT NULL,
    causation_id   TEXT        NOT NULL DEFAULT '',
    produced_at    TIMESTAMPTZ NOT NULL,
    payload        JSONB       NOT NULL,
    PRIMARY KEY (topic, partition, "offset")
);
CREATE TABLE IF NOT EXISTS backbone_cursors (
    group_name   TEXT   NOT NULL,
    topic        TEXT   NOT NULL,
    partition    INT    NOT NULL,
    acked_offset BIGINT NOT NULL,
    PRIMARY KEY (group_name, topic, partition)
);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure event log schema: %w", err)
	}
	return nil
}

// Append implements Store. An advisory transaction lock on the partition
// serializes offset assignment against concurrent publishers.
func (s *PostgresStore) Append(ctx context.Context, env Envelope) (Envelope, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, $2))`,
		env.Topic, int64(env.Partition),
	); err != nil {
		return Envelope{}, fmt.Errorf("lock partition %s/%d: %w", env.Topic, env.Partition, err)
	}

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX("offset") + 1, 0) FROM backbone_events WHERE topic = $1 AND partition = $2`,
		env.Topic, env.Partition,
	).Scan(&next); err != nil {
		return Envelope{}, fmt.Errorf("next offset for %s/%d: %w", env.Topic, env.Partition, err)
	}
	env.Offset = next

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO backbone_events (topic, partition, "offset", id, partition_key, correlation_id, causation_id, produced_at, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		env.Topic, env.Partition, env.Offset, env.ID, env.PartitionKey,
		env.CorrelationID, env.CausationID, env.ProducedAt.UTC(), []byte(env.Payload),
	); err != nil {
		return Envelope{}, fmt.Errorf("append to %s/%d: %w", env.Topic, env.Partition, err)
	}

	if err := tx.Commit(); err != nil {
		return Envelope{}, fmt.Errorf("commit append: %w", err)
	}
	return env, nil
}

// Read implements Store.
func (s *PostgresStore) Read(ctx context.Context, topic string, partition int, from int64, max int) ([]Envelope, error) {
	if max <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT "offset", id, partition_key, correlation_id, causation_id, produced_at, payload
		 FROM backbone_events
		 WHERE topic = $1 AND partition = $2 AND "offset" >= $3
		 ORDER BY "offset" LIMIT $4`,
		topic, partition, from, max,
	)
	if err != nil {
		return nil, fmt.Errorf("read %s/%d from %d: %w", topic, partition, from, err)
	}
	defer rows.Close()

	var out []Envelope
	for rows.Next() {
		env := Envelope{Topic: topic, Partition: partition}
		var producedAt time.Time
		var payload []byte
		if err := rows.Scan(&env.Offset, &env.ID, &env.PartitionKey,
			&env.CorrelationID, &env.CausationID, &producedAt, &payload); err != nil {
			return nil, fmt.Errorf("scan envelope: %w", err)
		}
		env.ProducedAt = producedAt
		env.Payload = payload
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate envelopes: %w", err)
	}
	return out, nil
}

// LatestOffset implements Store.
func (s *PostgresStore) LatestOffset(ctx context.Context, topic string, partition int) (int64, error) {
	var latest int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX("offset"), -1) FROM backbone_events WHERE topic = $1 AND partition = $2`,
		topic, partition,
	).Scan(&latest)
	if err != nil {
		return CursorNone, fmt.Errorf("latest offset for %s/%d: %w", topic, partition, err)
	}
	return latest, nil
}

// Topics implements Store.
func (s *PostgresStore) Topics(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT topic FROM backbone_events ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return topics, nil
}

// SaveCursor implements Store. GREATEST keeps cursors monotonic under
// concurrent acknowledgements.
func (s *PostgresStore) SaveCursor(ctx context.Context, group, topic string, partition int, offset int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO backbone_cursors (group_name, topic, partition, acked_offset)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (group_name, topic, partition)
		 DO UPDATE SET acked_offset = GREATEST(backbone_cursors.acked_offset, EXCLUDED.acked_offset)`,
		group, topic, partition, offset,
	); err != nil {
		return fmt.Errorf("save cursor %s %s/%d: %w", group, topic, partition, err)
	}
	return nil
}

// LoadCursor implements Store.
func (s *PostgresStore) LoadCursor(ctx context.Context, group, topic string, partition int) (int64, error) {
	var offset int64
	err := s.db.QueryRowContext(ctx,
		`SELECT acked_offset FROM backbone_cursors WHERE group_name = $1 AND topic = $2 AND partition = $3`,
		group, topic, partition,
	).Scan(&offset)
	if err == sql.ErrNoRows {
		return CursorNone, nil
	}
	if err != nil {
		return CursorNone, fmt.Errorf("load cursor %s %s/%d: %w", group, topic, partition, err)
	}
	return offset, nil
}

var _ Store = (*PostgresStore)(nil)
