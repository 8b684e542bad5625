package app

import (
	"context"
	"sync"
	"time"

	"github.com/apimeter/apimeter/adapters/metrics"
	"github.com/apimeter/apimeter/domain/usage"
	"github.com/apimeter/apimeter/ports"
	"github.com/rs/zerolog"
)

// BufferedLedgerWriter buffers usage records and appends them to the ledger
// in batches. A full buffer flushes in the background so the request path
// never waits on the ledger; Flush is synchronous for shutdown and tests.
type BufferedLedgerWriter struct {
	ledger        ports.UsageLedger
	logger        zerolog.Logger
	mx            *metrics.Collector
	buffer        []usage.Record
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// NewBufferedLedgerWriter creates a buffered writer. batchSize 0 means 100,
// flushInterval 0 means 10s.
func NewBufferedLedgerWriter(ledger ports.UsageLedger, batchSize int, flushInterval time.Duration, logger zerolog.Logger, mx *metrics.Collector) *BufferedLedgerWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}

	w := &BufferedLedgerWriter{
		ledger:        ledger,
		logger:        logger,
		mx:            mx,
		buffer:        make([]usage.Record, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	w.wg.Add(1)
	go w.flushLoop()

	return w
}

// Record queues a usage record. Non-blocking: a full buffer triggers a
// background flush.
func (w *BufferedLedgerWriter) Record(r usage.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buffer = append(w.buffer, r)

	if len(w.buffer) >= w.batchSize {
		batch := w.takeLocked()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			w.append(ctx, batch)
		}()
	}
}

// Flush synchronously appends all queued records.
func (w *BufferedLedgerWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.takeLocked()
	w.mu.Unlock()

	return w.append(ctx, batch)
}

// takeLocked swaps out the buffer. Caller holds w.mu.
func (w *BufferedLedgerWriter) takeLocked() []usage.Record {
	if len(w.buffer) == 0 {
		return nil
	}
	batch := make([]usage.Record, len(w.buffer))
	copy(batch, w.buffer)
	w.buffer = w.buffer[:0]
	return batch
}

func (w *BufferedLedgerWriter) append(ctx context.Context, batch []usage.Record) error {
	if len(batch) == 0 {
		return nil
	}
	if err := w.ledger.AppendBatch(ctx, batch); err != nil {
		// Best-effort ledger: the records are dropped, the failure counted.
		w.logger.Error().Err(err).Int("records", len(batch)).Msg("ledger append failed")
		if w.mx != nil {
			w.mx.LedgerAppendErrors.Inc()
		}
		return err
	}
	return nil
}

func (w *BufferedLedgerWriter) flushLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Flush(context.Background())
		case <-w.stopCh:
			return
		}
	}
}

// Close stops the writer and flushes remaining records.
func (w *BufferedLedgerWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = w.Flush(ctx)
	})
	return err
}

// Ensure interface compliance.
var _ ports.LedgerWriter = (*BufferedLedgerWriter)(nil)
