package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topicmux/topicmux/internal/client"
	"github.com/topicmux/topicmux/internal/config"
)

// Source is the slice of the client the recorder consumes.
type Source interface {
	Updates() <-chan client.Update
	Snapshot(name string) any
}

// Metrics counts recorder activity since start.
type Metrics struct {
	Inserts   int64
	Errors    int64
	Flushes   int64
	Snapshots int64
	Skipped   int64
}

// updateRow is one persisted topic operation.
type updateRow struct {
	Topic      string
	Op         string
	Value      []byte
	ReceivedAt int64
}

// Recorder consumes topic updates from a client and batch-inserts them.
type Recorder struct {
	cfg    config.RecorderConfig
	logger *slog.Logger

	source Source
	db     *pgxpool.Pool

	// Topics the recorder persists; everything else on the update stream
	// is skipped.
	topics map[string]bool

	input *Buffer[updateRow]

	batch       []updateRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New creates a recorder. Subscribing the configured topics on the client is
// the caller's job; the recorder only filters and persists the update stream.
func New(cfg config.RecorderConfig, source Source, db *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	topics := make(map[string]bool, len(cfg.Topics))
	for _, t := range cfg.Topics {
		topics[t] = true
	}

	return &Recorder{
		cfg:    cfg,
		source: source,
		db:     db,
		logger: logger,
		topics: topics,
		input:  NewBuffer[updateRow](cfg.BufferSize),
		batch:  make([]updateRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming updates and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.intakeLoop()

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	if r.cfg.SnapshotInterval > 0 {
		r.wg.Add(1)
		go r.snapshotLoop()
	}

	r.logger.Info("recorder started",
		"topics", r.cfg.Topics,
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts the recorder down and flushes the remaining batch.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	if r.cancel != nil {
		r.cancel()
	}
	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}
	r.input.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
	}

	// Drain whatever the intake got to before closing, then flush.
	for _, row := range r.input.Drain(0) {
		r.batchMu.Lock()
		r.batch = append(r.batch, row)
		r.batchMu.Unlock()
	}
	r.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.metrics
}

// BufferLen returns the number of updates waiting for the batcher.
func (r *Recorder) BufferLen() int {
	return r.input.Len()
}

// intakeLoop drains the client's update channel into the growable buffer.
func (r *Recorder) intakeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case u := <-r.source.Updates():
			if !r.topics[u.Topic] {
				r.batchMu.Lock()
				r.metrics.Skipped++
				r.batchMu.Unlock()
				continue
			}
			row, err := r.transform(u)
			if err != nil {
				r.logger.Warn("unencodable update dropped", "topic", u.Topic, "error", err)
				continue
			}
			r.input.Push(row)
		}
	}
}

// consumeLoop moves buffered rows into the batch.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
			row, ok := r.input.TryPop()
			if !ok {
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			r.addToBatch(row)
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush(r.ctx)
		}
	}
}

// snapshotLoop periodically persists a full snapshot of each recorded topic.
func (r *Recorder) snapshotLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.snapshotAll()
		}
	}
}

// transform converts a client update to a row, encoding the value as JSON.
func (r *Recorder) transform(u client.Update) (updateRow, error) {
	value, err := json.Marshal(u.Value)
	if err != nil {
		return updateRow{}, err
	}
	return updateRow{
		Topic:      u.Topic,
		Op:         string(u.Op),
		Value:      value,
		ReceivedAt: u.At.UnixMicro(),
	}, nil
}

func (r *Recorder) addToBatch(row updateRow) {
	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush(r.ctx)
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	batch := r.batch
	r.batch = make([]updateRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	if err := r.batchInsert(ctx, batch); err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.metrics.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.metrics.Inserts += int64(len(batch))
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed updates",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch.
func (r *Recorder) batchInsert(ctx context.Context, rows []updateRow) error {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO topic_updates (topic, op, value, received_at)
			VALUES ($1, $2, $3, $4)
		`, row.Topic, row.Op, row.Value, row.ReceivedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// snapshotAll persists one full snapshot per recorded topic.
func (r *Recorder) snapshotAll() {
	takenAt := time.Now().UnixMicro()

	batch := &pgx.Batch{}
	queued := 0
	for _, topic := range r.cfg.Topics {
		snap := r.source.Snapshot(topic)
		if snap == nil {
			continue
		}
		value, err := json.Marshal(snap)
		if err != nil {
			r.logger.Warn("unencodable snapshot skipped", "topic", topic, "error", err)
			continue
		}
		batch.Queue(`
			INSERT INTO topic_snapshots (topic, value, taken_at)
			VALUES ($1, $2, $3)
		`, topic, value, takenAt)
		queued++
	}
	if queued == 0 {
		return
	}

	results := r.db.SendBatch(r.ctx, batch)
	defer results.Close()

	for i := 0; i < queued; i++ {
		if _, err := results.Exec(); err != nil {
			r.logger.Error("snapshot insert failed", "error", err)
			r.batchMu.Lock()
			r.metrics.Errors++
			r.batchMu.Unlock()
			return
		}
	}

	r.batchMu.Lock()
	r.metrics.Snapshots += int64(queued)
	r.batchMu.Unlock()
}
