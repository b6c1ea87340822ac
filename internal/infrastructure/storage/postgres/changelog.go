package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"unitcast/internal/core/id"
	"unitcast/internal/domain/changefeed"
	"unitcast/internal/domain/projection"
	"unitcast/pkg/logger"
)

var tracer = otel.Tracer("unitcast/changelog")

// ChangeStatus represents the consumption state of a changelog row.
type ChangeStatus string

const (
	ChangePending  ChangeStatus = "pending"
	ChangeConsumed ChangeStatus = "consumed"
	ChangeFailed   ChangeStatus = "failed"
)

// maxChangeRetries caps redelivery before a row is parked as failed.
const maxChangeRetries = 5

// ChangeRow is one mutation event in the append-only changelog table.
type ChangeRow struct {
	ID          id.ID        `db:"id"`
	Seq         int64        `db:"seq"`
	EventKind   string       `db:"event_kind"`
	NewImage    []byte       `db:"new_image"` // typed-value JSON, nullable
	OldImage    []byte       `db:"old_image"` // typed-value JSON, nullable
	Status      ChangeStatus `db:"status"`
	RetryCount  int          `db:"retry_count"`
	LastError   *string      `db:"last_error"`
	NextRetryAt *time.Time   `db:"next_retry_at"`
	CreatedAt   time.Time    `db:"created_at"`
	ConsumedAt  *time.Time   `db:"consumed_at"`
}

// BatchHandler consumes one decoded batch and reports per-record failures.
type BatchHandler interface {
	HandleBatch(ctx context.Context, records []changefeed.ChangeRecord) projection.BatchResult
}

// ChangeSource polls the changelog in seq order and feeds batches to the
// handler. Rows are marked consumed or failed from the per-record result;
// SKIP LOCKED keeps overlapping ticks from claiming the same rows.
type ChangeSource struct {
	pool      *pgxpool.Pool
	table     string
	batchSize int
	handler   BatchHandler
}

// NewChangeSource creates a poller over the changelog table.
func NewChangeSource(pool *pgxpool.Pool, table string, batchSize int, handler BatchHandler) *ChangeSource {
	return &ChangeSource{
		pool:      pool,
		table:     table,
		batchSize: batchSize,
		handler:   handler,
	}
}

// ProcessBatch fetches pending rows, dispatches them and updates their
// status. Returns the number of rows consumed.
func (s *ChangeSource) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "changelog.batch",
		trace.WithAttributes(
			attribute.String("changelog.table", s.table),
			attribute.Int("changelog.batch_size", s.batchSize),
		))
	defer span.End()

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, seq, event_kind, new_image, old_image, status,
		       retry_count, last_error, next_retry_at, created_at, consumed_at
		FROM %s
		WHERE status = $1
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY seq
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, s.table), ChangePending, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch changelog rows: %w", err)
	}
	defer rows.Close()

	var claimed []*ChangeRow
	for rows.Next() {
		var row ChangeRow
		err := rows.Scan(
			&row.ID, &row.Seq, &row.EventKind, &row.NewImage,
			&row.OldImage, &row.Status, &row.RetryCount, &row.LastError,
			&row.NextRetryAt, &row.CreatedAt, &row.ConsumedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("scan changelog row: %w", err)
		}
		claimed = append(claimed, &row)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate changelog rows: %w", err)
	}

	var batch []*ChangeRow
	var records []changefeed.ChangeRecord
	for _, row := range claimed {
		rec, err := decodeRow(row)
		if err != nil {
			logger.Warn(ctx, "changelog row undecodable",
				"change_id", row.ID, "seq", row.Seq, "error", err)
			if markErr := s.markFailed(ctx, row, err); markErr != nil {
				logger.Error(ctx, "mark changelog row failed",
					"change_id", row.ID, "error", markErr)
			}
			continue
		}
		batch = append(batch, row)
		records = append(records, rec)
	}

	if len(records) == 0 {
		return 0, nil
	}

	result := s.handler.HandleBatch(ctx, records)

	failed := make(map[string]error, len(result.Failures))
	for _, f := range result.Failures {
		failed[f.RecordID] = f.Err
	}

	consumed := 0
	for _, row := range batch {
		if procErr, ok := failed[row.ID.String()]; ok {
			if err := s.markFailed(ctx, row, procErr); err != nil {
				logger.Error(ctx, "mark changelog row failed",
					"change_id", row.ID, "error", err)
			}
			continue
		}
		if err := s.markConsumed(ctx, row.ID); err != nil {
			logger.Error(ctx, "mark changelog row consumed",
				"change_id", row.ID, "error", err)
			continue
		}
		consumed++
	}

	return consumed, nil
}

// decodeRow maps a changelog row onto the wire record shape.
func decodeRow(row *ChangeRow) (changefeed.ChangeRecord, error) {
	rec := changefeed.ChangeRecord{
		ID:        row.ID.String(),
		EventKind: changefeed.EventKind(row.EventKind),
	}
	if len(row.NewImage) > 0 {
		if err := json.Unmarshal(row.NewImage, &rec.NewImage); err != nil {
			return rec, fmt.Errorf("decode new image: %w", err)
		}
	}
	if len(row.OldImage) > 0 {
		if err := json.Unmarshal(row.OldImage, &rec.OldImage); err != nil {
			return rec, fmt.Errorf("decode old image: %w", err)
		}
	}
	return rec, nil
}

// markFailed bumps retry bookkeeping and parks the row once retries run out.
func (s *ChangeSource) markFailed(ctx context.Context, row *ChangeRow, procErr error) error {
	nextRetry := time.Now().Add(time.Duration(row.RetryCount+1) * time.Minute)
	errStr := procErr.Error()

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET retry_count = retry_count + 1,
		    last_error = $1,
		    next_retry_at = $2,
		    status = CASE WHEN retry_count >= $3 THEN $4 ELSE status END
		WHERE id = $5
	`, s.table), errStr, nextRetry, maxChangeRetries, ChangeFailed, row.ID)
	if err != nil {
		return fmt.Errorf("update failed change: %w", err)
	}
	return nil
}

func (s *ChangeSource) markConsumed(ctx context.Context, changeID id.ID) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = $1, consumed_at = $2
		WHERE id = $3
	`, s.table), ChangeConsumed, now, changeID)
	if err != nil {
		return fmt.Errorf("mark change consumed: %w", err)
	}
	return nil
}

// PurgeConsumed deletes consumed rows older than the retention window.
// Returns the number of rows removed.
func (s *ChangeSource) PurgeConsumed(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	result, err := s.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s
		WHERE status = $1 AND consumed_at < $2
	`, s.table), ChangeConsumed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge consumed changes: %w", err)
	}
	return result.RowsAffected(), nil
}
