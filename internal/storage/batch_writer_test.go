package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sentinel-ir/internal/schema"

	"github.com/ClickHouse/clickhouse-go/v2/lib/column"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Mock implementations of driver.Conn and driver.Batch for unit testing
// without a real ClickHouse connection.
// ---------------------------------------------------------------------------

type mockConn struct {
	prepareBatchFunc func(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	execFunc         func(ctx context.Context, query string, args ...any) error
	queryFunc        func(ctx context.Context, query string, args ...any) (driver.Rows, error)
}

func (m *mockConn) Contributors() []string                                    { return nil }
func (m *mockConn) ServerVersion() (*driver.ServerVersion, error)             { return nil, nil }
func (m *mockConn) Select(_ context.Context, _ any, _ string, _ ...any) error { return nil }
func (m *mockConn) QueryRow(_ context.Context, _ string, _ ...any) driver.Row { return nil }
func (m *mockConn) AsyncInsert(_ context.Context, _ string, _ bool, _ ...any) error {
	return nil
}
func (m *mockConn) Ping(_ context.Context) error { return nil }
func (m *mockConn) Stats() driver.Stats          { return driver.Stats{} }
func (m *mockConn) Close() error                 { return nil }

func (m *mockConn) Exec(ctx context.Context, query string, args ...any) error {
	if m.execFunc != nil {
		return m.execFunc(ctx, query, args...)
	}
	return nil
}

func (m *mockConn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, query, args...)
	}
	return nil, nil
}

func (m *mockConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	if m.prepareBatchFunc != nil {
		return m.prepareBatchFunc(ctx, query, opts...)
	}
	return &mockBatch{}, nil
}

type mockBatch struct {
	mu          sync.Mutex
	appendCount int
	sendFunc    func() error
}

func (m *mockBatch) Abort() error { return nil }
func (m *mockBatch) Append(_ ...any) error {
	m.mu.Lock()
	m.appendCount++
	m.mu.Unlock()
	return nil
}
func (m *mockBatch) AppendStruct(_ any) error        { return nil }
func (m *mockBatch) Column(_ int) driver.BatchColumn { return nil }
func (m *mockBatch) Flush() error                    { return nil }
func (m *mockBatch) Send() error {
	if m.sendFunc != nil {
		return m.sendFunc()
	}
	return nil
}
func (m *mockBatch) IsSent() bool                { return false }
func (m *mockBatch) Rows() int                   { return m.appendCount }
func (m *mockBatch) Columns() []column.Interface { return nil }
func (m *mockBatch) Close() error                { return nil }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestEvent() *schema.Event {
	return &schema.Event{
		ID:            uuid.New(),
		Type:          "auth.login_failed",
		Severity:      schema.SeverityHigh,
		Scope:         "user:alice",
		Timestamp:     time.Now().UTC(),
		ReceivedAt:    time.Now().UTC(),
		IPAddress:     "203.0.113.50",
		UserAgent:     "curl/8.0",
		Tags:          []string{"auth"},
		Metadata:      map[string]any{"attempts": 4},
		Fingerprint:   "abc123",
		SchemaVersion: schema.SchemaVersionCurrent,
	}
}

func newMockClient(conn driver.Conn) *ClickHouseClient {
	return &ClickHouseClient{
		conn:   conn,
		config: DefaultClickHouseConfig(),
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestDefaultBatchWriterConfig(t *testing.T) {
	cfg := DefaultBatchWriterConfig()

	if cfg.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", cfg.BatchSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.RetryDelay)
	}
}

func TestBatchWriterBuffersBelowBatchSize(t *testing.T) {
	cfg := BatchWriterConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		MaxRetries:    0,
		RetryDelay:    time.Millisecond,
	}
	bw := NewBatchWriter(newMockClient(&mockConn{}), cfg)
	defer bw.Close()

	for i := 0; i < 5; i++ {
		if err := bw.Write(newTestEvent()); err != nil {
			t.Fatalf("Write() error on event %d: %v", i, err)
		}
	}

	metrics := bw.Metrics()
	if metrics.Pending != 5 {
		t.Errorf("Pending = %d, want 5", metrics.Pending)
	}
	if metrics.Written != 0 {
		t.Errorf("Written = %d, want 0 (no flush triggered yet)", metrics.Written)
	}
}

func TestBatchWriterWriteWhenClosed(t *testing.T) {
	bw := NewBatchWriter(newMockClient(&mockConn{}), DefaultBatchWriterConfig())

	if err := bw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := bw.Write(newTestEvent()); err != ErrWriterClosed {
		t.Errorf("Write() after Close() = %v, want ErrWriterClosed", err)
	}
}

func TestBatchWriterFlushOnBatchSize(t *testing.T) {
	batchSize := 5
	cfg := BatchWriterConfig{
		BatchSize:     batchSize,
		FlushInterval: time.Hour,
		MaxRetries:    0,
		RetryDelay:    time.Millisecond,
	}

	batch := &mockBatch{}
	conn := &mockConn{
		prepareBatchFunc: func(_ context.Context, _ string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
			return batch, nil
		},
	}
	bw := NewBatchWriter(newMockClient(conn), cfg)
	defer bw.Close()

	for i := 0; i < batchSize; i++ {
		if err := bw.Write(newTestEvent()); err != nil {
			t.Fatalf("Write() error on event %d: %v", i, err)
		}
	}

	metrics := bw.Metrics()
	if metrics.Pending != 0 {
		t.Errorf("Pending = %d, want 0 after flush", metrics.Pending)
	}
	if metrics.Written != uint64(batchSize) {
		t.Errorf("Written = %d, want %d", metrics.Written, batchSize)
	}
	if metrics.Batches != 1 {
		t.Errorf("Batches = %d, want 1", metrics.Batches)
	}
	if batch.appendCount != batchSize {
		t.Errorf("batch.appendCount = %d, want %d", batch.appendCount, batchSize)
	}
}

func TestBatchWriterCloseFlushesBuffer(t *testing.T) {
	cfg := BatchWriterConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		MaxRetries:    0,
		RetryDelay:    time.Millisecond,
	}

	var sendCalled atomic.Bool
	conn := &mockConn{
		prepareBatchFunc: func(_ context.Context, _ string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
			return &mockBatch{
				sendFunc: func() error {
					sendCalled.Store(true)
					return nil
				},
			}, nil
		},
	}
	bw := NewBatchWriter(newMockClient(conn), cfg)

	for i := 0; i < 3; i++ {
		if err := bw.Write(newTestEvent()); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	if err := bw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if !sendCalled.Load() {
		t.Error("Close() should have flushed buffered events")
	}
	if got := bw.Metrics().Written; got != 3 {
		t.Errorf("Written = %d, want 3 after close flush", got)
	}
}

func TestBatchWriterFlushFailureUpdatesMetrics(t *testing.T) {
	batchSize := 3
	cfg := BatchWriterConfig{
		BatchSize:     batchSize,
		FlushInterval: time.Hour,
		MaxRetries:    2,
		RetryDelay:    time.Millisecond,
	}

	conn := &mockConn{
		prepareBatchFunc: func(_ context.Context, _ string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
			return nil, fmt.Errorf("connection refused")
		},
	}
	bw := NewBatchWriter(newMockClient(conn), cfg)
	defer bw.Close()

	for i := 0; i < batchSize; i++ {
		bw.Write(newTestEvent())
	}

	metrics := bw.Metrics()
	if metrics.Failed != uint64(batchSize) {
		t.Errorf("Failed = %d, want %d", metrics.Failed, batchSize)
	}
	if metrics.Written != 0 {
		t.Errorf("Written = %d, want 0 (all inserts failed)", metrics.Written)
	}
}

func TestBatchWriterRetrySucceedsAfterFailure(t *testing.T) {
	batchSize := 2
	cfg := BatchWriterConfig{
		BatchSize:     batchSize,
		FlushInterval: time.Hour,
		MaxRetries:    3,
		RetryDelay:    time.Millisecond,
	}

	var calls atomic.Int32
	conn := &mockConn{
		prepareBatchFunc: func(_ context.Context, _ string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
			if calls.Add(1) < 3 {
				return nil, fmt.Errorf("connection refused")
			}
			return &mockBatch{}, nil
		},
	}
	bw := NewBatchWriter(newMockClient(conn), cfg)
	defer bw.Close()

	for i := 0; i < batchSize; i++ {
		if err := bw.Write(newTestEvent()); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	metrics := bw.Metrics()
	if metrics.Written != uint64(batchSize) {
		t.Errorf("Written = %d, want %d after retry", metrics.Written, batchSize)
	}
	if metrics.Failed != 0 {
		t.Errorf("Failed = %d, want 0", metrics.Failed)
	}
	if calls.Load() != 3 {
		t.Errorf("PrepareBatch calls = %d, want 3", calls.Load())
	}
}

func TestBatchWriterConcurrentWrite(t *testing.T) {
	cfg := BatchWriterConfig{
		BatchSize:     10,
		FlushInterval: time.Hour,
		MaxRetries:    0,
		RetryDelay:    time.Millisecond,
	}

	conn := &mockConn{
		prepareBatchFunc: func(_ context.Context, _ string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
			return &mockBatch{}, nil
		},
	}
	bw := NewBatchWriter(newMockClient(conn), cfg)
	defer bw.Close()

	numGoroutines := 10
	eventsPerGoroutine := 50
	totalEvents := numGoroutines * eventsPerGoroutine

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for g := 0; g < numGoroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < eventsPerGoroutine; i++ {
				bw.Write(newTestEvent())
			}
		}()
	}
	wg.Wait()

	metrics := bw.Metrics()
	accounted := int(metrics.Written) + metrics.Pending + int(metrics.Failed)
	if accounted != totalEvents {
		t.Errorf("Written(%d) + Pending(%d) + Failed(%d) = %d, want %d",
			metrics.Written, metrics.Pending, metrics.Failed, accounted, totalEvents)
	}
}

func TestBatchWriterCloseIdempotent(t *testing.T) {
	bw := NewBatchWriter(newMockClient(&mockConn{}), DefaultBatchWriterConfig())

	if err := bw.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := bw.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
