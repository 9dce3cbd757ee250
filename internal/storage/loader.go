package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"i94etl/internal/metrics"
)

// CopyFn abstracts a backend's bulk insert. It inserts rows aligned to
// columns and returns the number of rows the backend reports as written.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// Feed streams rows into a channel, closing it when done or when ctx ends.
func Feed(ctx context.Context, rows [][]any) <-chan []any {
	ch := make(chan []any, 256)
	go func() {
		defer close(ch)
		for _, r := range rows {
			select {
			case ch <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// LoadBatches drains in, groups rows into batches of batchSize and hands each
// batch to copyFn. It returns the rows copied and the first error. Progress is
// logged per flushed batch.
func LoadBatches(
	ctx context.Context,
	log *zap.Logger,
	job, table string,
	columns []string,
	in <-chan []any,
	batchSize int,
	copyFn CopyFn,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("storage: batchSize must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("storage: copyFn must not be nil")
	}
	if log == nil {
		log = zap.NewNop()
	}

	var (
		total   int64
		batches int64
		batch   = make([][]any, 0, batchSize)
		start   = time.Now()
		last    = start
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := copyFn(ctx, columns, batch)
		total += n
		batch = batch[:0]
		if err != nil {
			log.Error("loader: copy failed", zap.String("table", table), zap.Int64("copied", n), zap.Int64("total", total), zap.Error(err))
			return err
		}
		batches++
		metrics.RecordBatches(job, 1)

		now := time.Now()
		rps := float64(0)
		if d := now.Sub(last); d > 0 {
			rps = float64(n) / d.Seconds()
		}
		log.Debug("loader: batch flushed",
			zap.String("table", table),
			zap.Int64("batch", batches),
			zap.Int64("rows", n),
			zap.Int64("total", total),
			zap.Float64("rps", rps),
			zap.Duration("elapsed", now.Sub(start).Truncate(time.Millisecond)),
		)
		last = now
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case row, ok := <-in:
			if !ok {
				if err := flush(); err != nil {
					return total, err
				}
				log.Info("loader: table loaded", zap.String("table", table), zap.Int64("rows", total), zap.Int64("batches", batches))
				return total, nil
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
}
