package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/apimeter/apimeter/adapters/memory"
	"github.com/apimeter/apimeter/app"
	"github.com/apimeter/apimeter/domain/usage"
	"github.com/rs/zerolog"
)

func record(i int) usage.Record {
	return usage.Record{
		IdentityID: "key_1",
		Endpoint:   "/api/vulns",
		Method:     "GET",
		StatusCode: 200,
		Timestamp:  baseTime.Add(time.Duration(i) * time.Second),
	}
}

func TestBufferedWriter_BuffersUntilBatchSize(t *testing.T) {
	ledger := memory.NewLedger()
	w := app.NewBufferedLedgerWriter(ledger, 10, time.Hour, zerolog.Nop(), nil)
	defer w.Close()

	for i := 0; i < 9; i++ {
		w.Record(record(i))
	}
	if ledger.Len() != 0 {
		t.Errorf("ledger has %d records before the batch fills, want 0", ledger.Len())
	}

	w.Record(record(9))

	// The full-buffer flush runs in the background.
	deadline := time.Now().Add(2 * time.Second)
	for ledger.Len() < 10 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ledger.Len() != 10 {
		t.Errorf("ledger has %d records after the batch filled, want 10", ledger.Len())
	}
}

func TestBufferedWriter_FlushDrainsBuffer(t *testing.T) {
	ledger := memory.NewLedger()
	w := app.NewBufferedLedgerWriter(ledger, 100, time.Hour, zerolog.Nop(), nil)
	defer w.Close()

	for i := 0; i < 3; i++ {
		w.Record(record(i))
	}

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if ledger.Len() != 3 {
		t.Errorf("ledger has %d records, want 3", ledger.Len())
	}

	// A second flush with an empty buffer is a no-op.
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("empty flush: %v", err)
	}
	if ledger.Len() != 3 {
		t.Errorf("ledger has %d records after empty flush, want 3", ledger.Len())
	}
}

func TestBufferedWriter_CloseFlushesRemaining(t *testing.T) {
	ledger := memory.NewLedger()
	w := app.NewBufferedLedgerWriter(ledger, 100, time.Hour, zerolog.Nop(), nil)

	w.Record(record(0))
	w.Record(record(1))

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ledger.Len() != 2 {
		t.Errorf("ledger has %d records after close, want 2", ledger.Len())
	}

	// Close is idempotent.
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestBufferedWriter_IntervalFlush(t *testing.T) {
	ledger := memory.NewLedger()
	w := app.NewBufferedLedgerWriter(ledger, 100, 20*time.Millisecond, zerolog.Nop(), nil)
	defer w.Close()

	w.Record(record(0))

	deadline := time.Now().Add(2 * time.Second)
	for ledger.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ledger.Len() != 1 {
		t.Errorf("ledger has %d records, want 1 via interval flush", ledger.Len())
	}
}
