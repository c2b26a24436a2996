package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/topicmux/topicmux/internal/client"
	"github.com/topicmux/topicmux/internal/config"
	"github.com/topicmux/topicmux/internal/wire"
)

type fakeSource struct {
	updates   chan client.Update
	snapshots map[string]any
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		updates:   make(chan client.Update, 16),
		snapshots: make(map[string]any),
	}
}

func (f *fakeSource) Updates() <-chan client.Update { return f.updates }
func (f *fakeSource) Snapshot(name string) any      { return f.snapshots[name] }

func testRecorderConfig() config.RecorderConfig {
	return config.RecorderConfig{
		Topics:        []string{"Config", "Log"},
		BatchSize:     100,
		FlushInterval: time.Hour,
		BufferSize:    16,
	}
}

func TestRecorder_Transform(t *testing.T) {
	r := New(testRecorderConfig(), newFakeSource(), nil, nil)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row, err := r.transform(client.Update{
		Topic: "Config",
		Op:    wire.OpSet,
		Value: map[string]any{"mode": "auto"},
		At:    at,
	})
	if err != nil {
		t.Fatal(err)
	}

	if row.Topic != "Config" {
		t.Errorf("Topic = %q, want Config", row.Topic)
	}
	if row.Op != "set" {
		t.Errorf("Op = %q, want set", row.Op)
	}
	if string(row.Value) != `{"mode":"auto"}` {
		t.Errorf("Value = %s", row.Value)
	}
	if row.ReceivedAt != at.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, at.UnixMicro())
	}
}

func TestRecorder_IntakeFiltersTopics(t *testing.T) {
	src := newFakeSource()
	r := New(testRecorderConfig(), src, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.ctx = ctx

	r.wg.Add(1)
	go r.intakeLoop()

	src.updates <- client.Update{Topic: "Config", Op: wire.OpFull, Value: map[string]any{}, At: time.Now()}
	src.updates <- client.Update{Topic: "Other", Op: wire.OpFull, Value: map[string]any{}, At: time.Now()}
	src.updates <- client.Update{Topic: "Log", Op: wire.OpAdd, Value: []any{"line"}, At: time.Now()}

	deadline := time.Now().Add(time.Second)
	for r.BufferLen() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if got := r.BufferLen(); got != 2 {
		t.Errorf("buffered rows = %d, want 2", got)
	}
	if got := r.Stats().Skipped; got != 1 {
		t.Errorf("Skipped = %d, want 1", got)
	}

	cancel()
	r.wg.Wait()
}

func TestRecorder_AddToBatch(t *testing.T) {
	r := New(testRecorderConfig(), newFakeSource(), nil, nil)

	r.addToBatch(updateRow{Topic: "Config", Op: "full", Value: []byte("{}")})

	r.batchMu.Lock()
	got := len(r.batch)
	r.batchMu.Unlock()

	if got != 1 {
		t.Errorf("batch length = %d, want 1", got)
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	cfg := testRecorderConfig()
	cfg.FlushInterval = 100 * time.Millisecond

	r := New(cfg, newFakeSource(), nil, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestRecorder_StatsInitiallyZero(t *testing.T) {
	r := New(testRecorderConfig(), newFakeSource(), nil, nil)

	stats := r.Stats()
	if stats.Inserts != 0 || stats.Errors != 0 || stats.Flushes != 0 || stats.Snapshots != 0 {
		t.Errorf("initial stats = %+v, want zeros", stats)
	}
}
