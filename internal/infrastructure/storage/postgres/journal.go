package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"unitcast/internal/core/id"
	"unitcast/internal/domain/projection"
	"unitcast/pkg/logger"
)

// CompressionAlgo specifies the compression algorithm used for a payload.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// JournalRow is one persisted disposition in the projection journal.
type JournalRow struct {
	ID                id.ID           `db:"id"`
	RecordID          string          `db:"record_id"`
	EventKind         string          `db:"event_kind"`
	Action            string          `db:"action"`
	PartitionKey      string          `db:"pk"`
	SortKey           string          `db:"sk"`
	Payload           json.RawMessage `db:"payload"`
	PayloadCompressed []byte          `db:"payload_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	Error             *string         `db:"error"`
	CreatedAt         time.Time       `db:"created_at"`
}

// Compile-time check that Journal implements projection.Journal.
var _ projection.Journal = (*Journal)(nil)

// Journal persists per-record dispositions to the projection_journal table,
// compressing payloads above the threshold.
type Journal struct {
	db                Querier
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int // bytes, default 10KB
}

// NewJournal creates a projection journal over the pool.
func NewJournal(db Querier) (*Journal, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Journal{
		db:                db,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 10 * 1024, // 10KB
	}, nil
}

// Record implements projection.Journal. Write failures are logged, never
// surfaced: the journal must not affect dispatch outcomes.
func (j *Journal) Record(ctx context.Context, entry projection.JournalEntry) {
	row, err := j.buildRow(entry)
	if err != nil {
		logger.Error(ctx, "journal entry unserializable",
			"record_id", entry.RecordID, "error", err)
		return
	}

	sql := `
		INSERT INTO projection_journal (
			id, record_id, event_kind, action, pk, sk,
			payload, payload_compressed, compression_algo, error,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = j.db.Exec(ctx, sql,
		row.ID, row.RecordID, row.EventKind, row.Action,
		row.PartitionKey, row.SortKey,
		row.Payload, row.PayloadCompressed, row.CompressionAlgo,
		row.Error, row.CreatedAt,
	)
	if err != nil {
		logger.Error(ctx, "journal write failed",
			"record_id", entry.RecordID, "error", err)
	}
}

// buildRow shapes the entry for insertion, compressing large payloads.
func (j *Journal) buildRow(entry projection.JournalEntry) (*JournalRow, error) {
	row := &JournalRow{
		ID:              id.New(),
		RecordID:        entry.RecordID,
		EventKind:       string(entry.EventKind),
		Action:          string(entry.Action),
		PartitionKey:    entry.Identity.PartitionKey,
		SortKey:         entry.Identity.SortKey,
		CompressionAlgo: CompressionNone,
		CreatedAt:       entry.At,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if entry.Err != nil {
		errStr := entry.Err.Error()
		row.Error = &errStr
	}

	if len(entry.Attrs) > 0 {
		payload, err := json.Marshal(entry.Attrs)
		if err != nil {
			return nil, fmt.Errorf("marshal journal payload: %w", err)
		}
		row.Payload = payload

		if len(payload) > j.compressThreshold {
			row.PayloadCompressed = j.encoder.EncodeAll(payload, nil)
			row.Payload = nil
			row.CompressionAlgo = CompressionZstd
		}
	}

	return row, nil
}

// History retrieves recent journal rows for a projection identity, newest
// first, decompressing payloads as needed.
func (j *Journal) History(ctx context.Context, pid projection.Identity, limit int) ([]JournalRow, error) {
	sql := `
		SELECT id, record_id, event_kind, action, pk, sk,
		       payload, payload_compressed, compression_algo, error,
		       created_at
		FROM projection_journal
		WHERE pk = $1 AND sk = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := j.db.Query(ctx, sql, pid.PartitionKey, pid.SortKey, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalRow
	for rows.Next() {
		var row JournalRow
		err := rows.Scan(
			&row.ID, &row.RecordID, &row.EventKind, &row.Action,
			&row.PartitionKey, &row.SortKey,
			&row.Payload, &row.PayloadCompressed, &row.CompressionAlgo,
			&row.Error, &row.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}

		// Decompress if needed
		if row.CompressionAlgo == CompressionZstd && len(row.PayloadCompressed) > 0 {
			payload, err := j.decoder.DecodeAll(row.PayloadCompressed, nil)
			if err != nil {
				return nil, fmt.Errorf("decompress journal payload: %w", err)
			}
			row.Payload = payload
			row.PayloadCompressed = nil
		}

		entries = append(entries, row)
	}

	return entries, rows.Err()
}
