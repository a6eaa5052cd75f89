// Package history batches TableChanges into idempotent inserts against
// change_history. Idempotency comes from an ON CONFLICT DO NOTHING
// policy over (lsn, table_name, data->>'id'), so a replayed poll after
// a crash never double-counts a row.
package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/cdcerr"
	"github.com/vibestack/cdc-core/internal/wal"
)

// Writer persists TableChanges in chunks of batchSize.
type Writer struct {
	pool      *pgxpool.Pool
	batchSize int
	logger    zerolog.Logger
}

// New builds a Writer. batchSize <= 0 falls back to the default of 100
// rows per chunk (one pgx.Batch of single-row inserts).
func New(pool *pgxpool.Pool, batchSize int, logger zerolog.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Writer{
		pool:      pool,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "history-writer").Logger(),
	}
}

// Write inserts changes in chunks of w.batchSize. Batch-level failures
// do not abort remaining batches; the return is (successCount,
// totalCount), and the error is non-nil only when successCount == 0,
// totalCount > 0 and a chunk failed (total write failure). Rows skipped
// by ON CONFLICT are not failures, so a fully replayed batch returns
// (0, totalCount, nil).
func (w *Writer) Write(ctx context.Context, changes []wal.TableChange) (successCount, totalCount int, err error) {
	totalCount = len(changes)
	if totalCount == 0 {
		return 0, 0, nil
	}

	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return 0, totalCount, fmt.Errorf("%w: acquire connection: %v", cdcerr.HistoryWriteFailure, err)
	}
	defer conn.Release()

	var firstErr error
	for start := 0; start < len(changes); start += w.batchSize {
		end := start + w.batchSize
		if end > len(changes) {
			end = len(changes)
		}
		chunk := changes[start:end]

		n, err := w.writeChunk(ctx, conn, chunk)
		successCount += n
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			w.logger.Err(err).Int("chunk_size", len(chunk)).Msg("history chunk write failed")
		}
	}

	if successCount == 0 && firstErr != nil {
		return 0, totalCount, fmt.Errorf("%w: %v", cdcerr.HistoryWriteFailure, firstErr)
	}
	return successCount, totalCount, nil
}

func (w *Writer) writeChunk(ctx context.Context, conn *pgxpool.Conn, chunk []wal.TableChange) (int, error) {
	type row struct {
		lsn, table, op string
		data           []byte
		updatedAt      any
	}
	rows := make([]row, 0, len(chunk))
	for _, tc := range chunk {
		data, err := json.Marshal(tc.Data)
		if err != nil {
			w.logger.Err(err).Str("table", tc.Table).Msg("skip row with unmarshalable data")
			continue
		}
		rows = append(rows, row{lsn: tc.LSN.String(), table: tc.Table, op: string(tc.Op), data: data, updatedAt: tc.UpdatedAt})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`INSERT INTO change_history (lsn, table_name, operation, data, timestamp)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (lsn, table_name, (data ->> 'id')) DO NOTHING`,
			r.lsn, r.table, r.op, r.data, r.updatedAt,
		)
	}
	br := conn.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("%w: %v", cdcerr.HistoryWriteFailure, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
