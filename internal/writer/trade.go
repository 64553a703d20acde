package writer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/rickgao/kis-data/internal/metrics"
	"github.com/rickgao/kis-data/internal/model"
)

// kst is the exchange time zone; trade dates are KRX session dates.
var kst = time.FixedZone("KST", 9*60*60)

const insertTrade = `
	INSERT INTO stock_trades (code, trade_date, trade_time, received_at, price, change, change_rate,
		open, high, low, volume, cum_volume, session_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (code, trade_date, cum_volume) DO NOTHING
`

// tradeRow is one stock_trades row.
type tradeRow struct {
	Code       string
	TradeDate  time.Time
	TradeTime  string
	ReceivedAt int64
	Price      int64
	Change     int64
	ChangeRate decimal.Decimal
	Open       int64
	High       int64
	Low        int64
	Volume     int64
	CumVolume  int64
	SessionID  uuid.UUID
}

// TradeWriter consumes realtime ticks and writes trades to stock_trades.
type TradeWriter struct {
	cfg     WriterConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Input from the stream supervisor
	input chan model.Trade

	// Database
	db BatchSender

	// Batching
	batch   []tradeRow
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Stats
	statsMu sync.Mutex
	stats   WriterMetrics
}

// NewTradeWriter creates a new TradeWriter.
func NewTradeWriter(
	cfg WriterConfig,
	db BatchSender,
	logger *slog.Logger,
	m *metrics.Metrics,
) *TradeWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &TradeWriter{
		cfg:     cfg,
		db:      db,
		logger:  logger.With("component", "trade_writer"),
		metrics: m,
		input:   make(chan model.Trade, cfg.BatchSize*4),
		batch:   make([]tradeRow, 0, cfg.BatchSize),
	}
}

// Handle queues the trades carried by tick. Ticks from other feeds are
// ignored. It never blocks; trades are dropped when the buffer is full.
func (w *TradeWriter) Handle(tick model.Tick) {
	trades, err := model.ParseTrades(tick)
	if err != nil {
		if errors.Is(err, model.ErrNotTrade) {
			return
		}
		w.logger.Warn("unparseable trade tick", "tr_id", tick.TrID, "error", err)
		w.statsMu.Lock()
		w.stats.ParseErrors++
		w.statsMu.Unlock()
		return
	}

	for _, trade := range trades {
		select {
		case w.input <- trade:
		default:
			w.statsMu.Lock()
			w.stats.Dropped++
			w.statsMu.Unlock()
			w.logger.Warn("trade buffer full, dropping trade", "code", trade.Code)
		}
	}
}

// Start begins consuming trades and writing to the database.
func (w *TradeWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("trade writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued trades, flushes the last batch and shuts down.
func (w *TradeWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping trade writer")

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("trade writer stop timed out")
		return ctx.Err()
	}

	// Final drain and flush on the caller's context; the run context is gone.
drain:
	for {
		select {
		case trade := <-w.input:
			w.handleTrade(ctx, trade)
		default:
			break drain
		}
	}
	w.flush(ctx)

	w.logger.Info("trade writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *TradeWriter) Stats() WriterMetrics {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	return w.stats
}

// consumeLoop reads from the input channel and accumulates batches.
func (w *TradeWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case trade := <-w.input:
			w.handleTrade(w.ctx, trade)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *TradeWriter) flushLoop() {
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

// handleTrade transforms and adds a trade to the batch.
func (w *TradeWriter) handleTrade(ctx context.Context, trade model.Trade) {
	row := transform(trade)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(ctx)
	}
}

// transform converts a model.Trade to a tradeRow.
func transform(t model.Trade) tradeRow {
	received := time.UnixMicro(t.ReceivedAt).In(kst)
	return tradeRow{
		Code:       t.Code,
		TradeDate:  time.Date(received.Year(), received.Month(), received.Day(), 0, 0, 0, 0, time.UTC),
		TradeTime:  t.TradeTime,
		ReceivedAt: t.ReceivedAt,
		Price:      t.Price,
		Change:     t.Change,
		ChangeRate: t.ChangeRate,
		Open:       t.Open,
		High:       t.High,
		Low:        t.Low,
		Volume:     t.Volume,
		CumVolume:  t.CumVolume,
		SessionID:  t.SessionID,
	}
}

// flush writes the current batch to the database.
func (w *TradeWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]tradeRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	w.metrics.WriterFlush(len(batch)-conflicts, err)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.statsMu.Lock()
		w.stats.Errors++
		w.statsMu.Unlock()
		return
	}

	w.statsMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.statsMu.Unlock()

	w.logger.Debug("flushed trades",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *TradeWriter) batchInsert(ctx context.Context, rows []tradeRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertTrade,
			r.Code, r.TradeDate, r.TradeTime, r.ReceivedAt, r.Price, r.Change, r.ChangeRate,
			r.Open, r.High, r.Low, r.Volume, r.CumVolume, r.SessionID)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
