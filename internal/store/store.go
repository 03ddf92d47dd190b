// File: internal/store/store.go
// Description: Optional PostgreSQL persistence for automation outcomes and
// alert history. The engine runs fine without it; a nil *Store is a no-op.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store persists automation results and alerts.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const sqlInsertResult = `
        INSERT INTO automation_results (id, target, submitted, candidate, defense, contact, error, started_at, duration_ms)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `

// SaveResult records one finished automation run. A nil store swallows the
// write so callers never branch on persistence being configured.
func (s *Store) SaveResult(ctx context.Context, id string, result *schemas.AutomationResult) error {
	if s == nil {
		return nil
	}

	candidate, err := marshalOrEmpty(result.Candidate)
	if err != nil {
		return fmt.Errorf("encoding candidate: %w", err)
	}
	defense, err := marshalOrEmpty(result.Defense)
	if err != nil {
		return fmt.Errorf("encoding defense outcome: %w", err)
	}
	contact, err := marshalOrEmpty(result.Contact)
	if err != nil {
		return fmt.Errorf("encoding contact details: %w", err)
	}

	_, err = s.pool.Exec(ctx, sqlInsertResult,
		id, result.Target, result.Submitted,
		candidate, defense, contact,
		result.Error,
		result.StartedAt.UTC(),
		result.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert automation result: %w", err)
	}
	return nil
}

// SaveAlerts bulk-inserts an alert batch inside one transaction.
func (s *Store) SaveAlerts(ctx context.Context, alerts []schemas.Alert) error {
	if s == nil || len(alerts) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	rows := make([][]interface{}, len(alerts))
	for i, a := range alerts {
		var resolvedAt *time.Time
		if a.Resolved && a.ResolvedAt != nil {
			utc := a.ResolvedAt.UTC()
			resolvedAt = &utc
		}
		rows[i] = []interface{}{
			a.ID, a.Type, string(a.Severity), a.Message,
			a.ConnectionID, a.UserID,
			a.CreatedAt.UTC(), a.Resolved, resolvedAt,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"alerts"},
		[]string{"id", "type", "severity", "message", "connection_id", "user_id", "created_at", "resolved", "resolved_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy alerts: %w", err)
	}
	if int(copyCount) != len(alerts) {
		return fmt.Errorf("mismatch in copied alerts count: expected %d, got %d", len(alerts), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecentResults returns the latest runs, newest first.
func (s *Store) RecentResults(ctx context.Context, limit int) ([]schemas.AutomationResult, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
        SELECT target, submitted, candidate, defense, contact, error, started_at, duration_ms
        FROM automation_results
        ORDER BY started_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query automation results: %w", err)
	}
	defer rows.Close()

	var results []schemas.AutomationResult
	for rows.Next() {
		var (
			r          schemas.AutomationResult
			candidate  []byte
			defense    []byte
			contact    []byte
			durationMs int64
		)
		if err := rows.Scan(&r.Target, &r.Submitted, &candidate, &defense, &contact,
			&r.Error, &r.StartedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond

		if err := unmarshalIfSet(candidate, &r.Candidate); err != nil {
			return nil, fmt.Errorf("decoding candidate: %w", err)
		}
		if err := unmarshalIfSet(defense, &r.Defense); err != nil {
			return nil, fmt.Errorf("decoding defense outcome: %w", err)
		}
		if err := unmarshalIfSet(contact, &r.Contact); err != nil {
			return nil, fmt.Errorf("decoding contact details: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}

func marshalOrEmpty(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return []byte("{}"), nil
	}
	return data, nil
}

func unmarshalIfSet[T any](data []byte, out **T) error {
	if len(data) == 0 || string(data) == "{}" || string(data) == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*out = &v
	return nil
}
