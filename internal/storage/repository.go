package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"price-testing/internal/automation"
	"price-testing/internal/experiment"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a test does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a test changed since it was read.
	ErrConflict = errors.New("storage: version conflict")
)

const (
	insertTestSQL = `INSERT INTO price_tests (
        id,
        product_id,
        status,
        doc,
        version
    ) VALUES (
        $1,$2,$3,$4,1
    )
    RETURNING version;`

	getTestSQL = `SELECT doc, version FROM price_tests WHERE id = $1;`

	listTestsSQL = `SELECT doc, version, updated_at
    FROM price_tests
    ORDER BY updated_at DESC
    LIMIT $1;`

	listRunningTestsSQL = `SELECT doc, version
    FROM price_tests
    WHERE status = 'Running'
    ORDER BY created_at;`

	listRunningForProductSQL = `SELECT doc, version
    FROM price_tests
    WHERE status = 'Running'
      AND (
        product_id = $1
        OR EXISTS (
            SELECT 1
            FROM jsonb_array_elements(doc->'variations') v
            WHERE v->'prices' ? $1
        )
      )
    ORDER BY created_at;`

	updateTestSQL = `UPDATE price_tests
    SET doc        = $2,
        status     = $3,
        product_id = $4,
        version    = version + 1,
        updated_at = now()
    WHERE id = $1
      AND version = $5
    RETURNING version;`

	testExistsSQL = `SELECT EXISTS (SELECT 1 FROM price_tests WHERE id = $1);`

	insertEventSQL = `INSERT INTO test_events (
        test_id,
        type,
        variation,
        ts,
        revenue_cents,
        visitor_id,
        session_id,
        path,
        product_id,
        variant_id,
        qty,
        referrer,
        user_agent
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    )
    RETURNING id, ts;`

	listEventsSQL = `SELECT
        id,
        type,
        test_id,
        variation,
        ts,
        revenue_cents,
        visitor_id,
        session_id,
        path,
        product_id,
        variant_id,
        qty,
        referrer,
        user_agent
    FROM test_events
    WHERE test_id = $1
      AND ts >= $2
      AND ts < $3
    ORDER BY ts, id;`

	insertLogSQL = `INSERT INTO automation_logs (
        id,
        test_id,
        action,
        details,
        ts
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	listLogsSQL = `SELECT id, test_id, action, details, ts
    FROM automation_logs
    WHERE test_id = $1
    ORDER BY ts DESC
    LIMIT $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// TestStore persists test configurations with optimistic concurrency.
type TestStore interface {
	CreateTest(ctx context.Context, test experiment.Test) (experiment.Test, error)
	GetTest(ctx context.Context, id string) (experiment.Test, error)
	ListTests(ctx context.Context, limit int) ([]TestSummary, error)
	ListRunningTests(ctx context.Context) ([]experiment.Test, error)
	ListRunningTestsForProduct(ctx context.Context, productID string) ([]experiment.Test, error)
	UpdateTest(ctx context.Context, test experiment.Test) (experiment.Test, error)
}

// EventStore is the append-only visitor event log.
type EventStore interface {
	InsertEvent(ctx context.Context, event experiment.Event) (experiment.Event, error)
	ListEvents(ctx context.Context, testID string, from, to time.Time) ([]experiment.Event, error)
}

// LogStore keeps the automation audit trail.
type LogStore interface {
	InsertLogs(ctx context.Context, logs []automation.LogEntry) error
	ListLogs(ctx context.Context, testID string, limit int) ([]automation.LogEntry, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to tests, events and automation logs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection closes
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// CreateTest stores a new test at version 1.
func (s *Store) CreateTest(ctx context.Context, test experiment.Test) (experiment.Test, error) {
	pool, err := s.getPool()
	if err != nil {
		return experiment.Test{}, err
	}

	doc, err := encodeTest(test)
	if err != nil {
		return experiment.Test{}, err
	}

	if err := pool.QueryRow(ctx, insertTestSQL, test.ID, test.ProductID, string(test.Status), doc).Scan(&test.Version); err != nil {
		return experiment.Test{}, fmt.Errorf("insert test: %w", err)
	}
	return test, nil
}

// GetTest loads a test by id.
func (s *Store) GetTest(ctx context.Context, id string) (experiment.Test, error) {
	pool, err := s.getPool()
	if err != nil {
		return experiment.Test{}, err
	}

	var (
		doc     []byte
		version int64
	)
	if err := pool.QueryRow(ctx, getTestSQL, id).Scan(&doc, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return experiment.Test{}, fmt.Errorf("test %s: %w", id, ErrNotFound)
		}
		return experiment.Test{}, fmt.Errorf("get test: %w", err)
	}
	return decodeTest(doc, version)
}

// ListTests lists the most recently updated tests.
func (s *Store) ListTests(ctx context.Context, limit int) ([]TestSummary, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTestsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list tests: %w", queryErr)
	}
	defer rows.Close()

	summaries := make([]TestSummary, 0, limit)
	for rows.Next() {
		var (
			doc       []byte
			version   int64
			updatedAt time.Time
		)
		if err := rows.Scan(&doc, &version, &updatedAt); err != nil {
			return nil, err
		}
		test, err := decodeTest(doc, version)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summarize(test, updatedAt))
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return summaries, nil
}

// ListRunningTests returns every test in the Running state.
func (s *Store) ListRunningTests(ctx context.Context) ([]experiment.Test, error) {
	return s.queryTests(ctx, "list running tests", listRunningTestsSQL)
}

// ListRunningTestsForProduct returns running tests that price productID,
// either as their main product or through a per-product variation price.
func (s *Store) ListRunningTestsForProduct(ctx context.Context, productID string) ([]experiment.Test, error) {
	return s.queryTests(ctx, "list running tests for product", listRunningForProductSQL, productID)
}

func (s *Store) queryTests(ctx context.Context, op, query string, args ...any) ([]experiment.Test, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("%s: %w", op, queryErr)
	}
	defer rows.Close()

	tests := make([]experiment.Test, 0)
	for rows.Next() {
		var (
			doc     []byte
			version int64
		)
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, err
		}
		test, err := decodeTest(doc, version)
		if err != nil {
			return nil, err
		}
		tests = append(tests, test)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tests, nil
}

// UpdateTest writes test if its version still matches the stored one and
// returns it with the new version. A stale version yields ErrConflict.
func (s *Store) UpdateTest(ctx context.Context, test experiment.Test) (experiment.Test, error) {
	pool, err := s.getPool()
	if err != nil {
		return experiment.Test{}, err
	}

	doc, err := encodeTest(test)
	if err != nil {
		return experiment.Test{}, err
	}

	var version int64
	err = pool.QueryRow(ctx, updateTestSQL, test.ID, doc, string(test.Status), test.ProductID, test.Version).Scan(&version)
	if err == nil {
		test.Version = version
		return test, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return experiment.Test{}, fmt.Errorf("update test: %w", err)
	}

	var exists bool
	if err := pool.QueryRow(ctx, testExistsSQL, test.ID).Scan(&exists); err != nil {
		return experiment.Test{}, fmt.Errorf("check test: %w", err)
	}
	if !exists {
		return experiment.Test{}, fmt.Errorf("test %s: %w", test.ID, ErrNotFound)
	}
	return experiment.Test{}, fmt.Errorf("test %s at version %d: %w", test.ID, test.Version, ErrConflict)
}

// InsertEvent appends an event and returns it with its id and timestamp.
func (s *Store) InsertEvent(ctx context.Context, event experiment.Event) (experiment.Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return experiment.Event{}, err
	}

	ts := event.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var qty any
	if event.Qty != nil {
		qty = *event.Qty
	}
	var revenue any
	if event.RevenueCents != nil {
		revenue = *event.RevenueCents
	}

	row := pool.QueryRow(ctx, insertEventSQL,
		event.TestID,
		string(event.Type),
		event.Variation,
		ts,
		revenue,
		nullable(event.VisitorID),
		nullable(event.SessionID),
		nullable(event.Path),
		nullable(event.ProductID),
		nullable(event.VariantID),
		qty,
		nullable(event.Referrer),
		nullable(event.UserAgent),
	)
	if err := row.Scan(&event.ID, &event.TS); err != nil {
		return experiment.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return event, nil
}

// ListEvents returns a test's events in [from, to) ordered by timestamp.
func (s *Store) ListEvents(ctx context.Context, testID string, from, to time.Time) ([]experiment.Event, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEventsSQL, testID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]experiment.Event, 0)
	for rows.Next() {
		event, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// InsertLogs appends automation audit entries in one batch.
func (s *Store) InsertLogs(ctx context.Context, logs []automation.LogEntry) error {
	if len(logs) == 0 {
		return nil
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, entry := range logs {
		details, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encode log details: %w", err)
		}
		batch.Queue(insertLogSQL, entry.ID, entry.TestID, string(entry.Action), details, entry.Timestamp)
	}

	results := pool.SendBatch(ctx, batch)
	for range logs {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert automation log: %w", err)
		}
	}
	return results.Close()
}

// ListLogs returns the newest audit entries for a test.
func (s *Store) ListLogs(ctx context.Context, testID string, limit int) ([]automation.LogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listLogsSQL, testID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list automation logs: %w", queryErr)
	}
	defer rows.Close()

	logs := make([]automation.LogEntry, 0, limit)
	for rows.Next() {
		var (
			entry   automation.LogEntry
			action  string
			details []byte
		)
		if err := rows.Scan(&entry.ID, &entry.TestID, &action, &details, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.Action = experiment.ActionType(action)
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("decode log details: %w", err)
		}
		logs = append(logs, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return logs, nil
}

func scanEvent(rows pgx.Rows) (experiment.Event, error) {
	var (
		event     experiment.Event
		eventType string
		revenue   sql.NullInt64
		visitor   sql.NullString
		session   sql.NullString
		path      sql.NullString
		product   sql.NullString
		variant   sql.NullString
		qty       sql.NullInt32
		referrer  sql.NullString
		userAgent sql.NullString
	)

	if err := rows.Scan(
		&event.ID,
		&eventType,
		&event.TestID,
		&event.Variation,
		&event.TS,
		&revenue,
		&visitor,
		&session,
		&path,
		&product,
		&variant,
		&qty,
		&referrer,
		&userAgent,
	); err != nil {
		return experiment.Event{}, err
	}

	event.Type = experiment.EventType(eventType)
	event.VisitorID = visitor.String
	event.SessionID = session.String
	event.Path = path.String
	event.ProductID = product.String
	event.VariantID = variant.String
	event.Referrer = referrer.String
	event.UserAgent = userAgent.String
	if revenue.Valid {
		value := revenue.Int64
		event.RevenueCents = &value
	}
	if qty.Valid {
		value := int(qty.Int32)
		event.Qty = &value
	}
	return event, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var (
	_ TestStore      = (*Store)(nil)
	_ EventStore     = (*Store)(nil)
	_ LogStore       = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
