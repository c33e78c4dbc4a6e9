package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/pixel-canvas/internal/config"
	"github.com/rickgao/pixel-canvas/internal/grid"
)

// columns of the journal table, in CopyFrom order.
var columns = []string{"received_at", "stream", "cell_index", "color", "previous"}

// DB is the subset of *pgxpool.Pool the writer uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Config configures a Writer.
type Config struct {
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// ConfigFrom maps the journal section of the client config.
func ConfigFrom(cfg config.JournalConfig) Config {
	return Config{
		Table:         cfg.Table,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		BufferSize:    cfg.BufferSize,
	}
}

// Metrics counts journal activity.
type Metrics struct {
	Rows    int64 // Rows written
	Flushes int64 // Successful CopyFrom calls
	Errors  int64 // Failed CopyFrom calls
	Dropped int64 // Rows discarded because the buffer was full
	Queued  int   // Rows waiting in the buffer
	Resizes int   // Times the buffer grew
}

// row is one journal record.
type row struct {
	ReceivedAt time.Time
	Stream     string
	Index      int
	Color      string
	Previous   string
}

func (r row) values() []any {
	return []any{r.ReceivedAt, r.Stream, r.Index, r.Color, r.Previous}
}

// Writer batches cell changes into the journal table. It implements
// grid.ChangeSink; Record never blocks the caller.
type Writer struct {
	cfg    Config
	stream string
	db     DB
	logger *slog.Logger
	now    func() time.Time

	input *queue[row]

	batch   []row
	batchMu sync.Mutex
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a Writer tagging rows with stream (the endpoint name).
func NewWriter(cfg Config, db DB, stream string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.Table == "" {
		cfg.Table = "pixel_changes"
	}

	return &Writer{
		cfg:    cfg,
		stream: stream,
		db:     db,
		logger: logger.With("table", cfg.Table),
		now:    time.Now,
		input:  newQueue[row](min(cfg.BatchSize, cfg.BufferSize), cfg.BufferSize),
		batch:  make([]row, 0, cfg.BatchSize),
	}
}

var _ grid.ChangeSink = (*Writer)(nil)

// EnsureSchema creates the journal table if it does not exist.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	table := pgx.Identifier{w.cfg.Table}.Sanitize()
	_, err := w.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          BIGSERIAL PRIMARY KEY,
			received_at TIMESTAMPTZ NOT NULL,
			stream      TEXT NOT NULL,
			cell_index  INTEGER NOT NULL,
			color       TEXT NOT NULL,
			previous    TEXT NOT NULL
		)`, table))
	if err != nil {
		return fmt.Errorf("create journal table: %w", err)
	}
	return nil
}

// Record queues changes. Rows that do not fit in the buffer, or arrive after
// Stop, are dropped and counted.
func (w *Writer) Record(changes []grid.CellChange) {
	at := w.now()
	for _, c := range changes {
		r := row{ReceivedAt: at, Stream: w.stream, Index: c.Index, Color: c.Color, Previous: c.Previous}
		if !w.input.Push(r) {
			w.batchMu.Lock()
			w.metrics.Dropped++
			w.batchMu.Unlock()
		}
	}
}

// Start begins consuming queued rows.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop stops the loops and writes whatever is still queued.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")

	if w.cancel != nil {
		w.cancel()
	}
	w.input.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	w.drain()
	if err := w.flush(ctx); err != nil {
		return err
	}

	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	qs := w.input.Stats()

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	m := w.metrics
	m.Queued = qs.Count
	m.Resizes = qs.Resizes
	return m
}

// consumeLoop moves queued rows into the batch, flushing full batches.
// Once stopping, rows are only batched; Stop writes them.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		r, ok := w.input.Pop()
		if !ok {
			return
		}
		if w.add(r) && w.ctx.Err() == nil {
			w.flush(w.ctx)
		}
	}
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// add appends r to the batch and reports whether the batch is full.
func (w *Writer) add(r row) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, r)
	return len(w.batch) >= w.cfg.BatchSize
}

// drain moves queued rows into the batch.
func (w *Writer) drain() {
	for _, r := range w.input.Drain() {
		w.add(r)
	}
}

// flush writes the current batch with COPY. A failed batch is logged and
// discarded.
func (w *Writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}
	batch := w.batch
	w.batch = make([]row, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	rows := make([][]any, len(batch))
	for i, r := range batch {
		rows[i] = r.values()
	}

	n, err := w.db.CopyFrom(ctx, pgx.Identifier{w.cfg.Table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		w.logger.Error("journal copy failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return fmt.Errorf("copy journal rows: %w", err)
	}

	w.batchMu.Lock()
	w.metrics.Rows += n
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed journal",
		"count", n,
		"duration", time.Since(start),
	)
	return nil
}
