package hopcount

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bcpnet/gobcp/internal/routing"
	"github.com/bcpnet/gobcp/internal/wire"
)

type recordingMedium struct {
	mu     sync.Mutex
	frames [][]byte
}

func (m *recordingMedium) Broadcast(_ context.Context, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, append([]byte(nil), frame...))
	return nil
}

func (m *recordingMedium) last() (wire.HopCounterMsg, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return wire.HopCounterMsg{}, false
	}
	f := m.frames[len(m.frames)-1]
	msg, err := wire.UnmarshalHopCounter(f[1:])
	if err != nil {
		return wire.HopCounterMsg{}, false
	}
	return msg, true
}

func testConfig() Config {
	return Config{
		MaxSettleDelay:      5 * time.Millisecond,
		Window:              40 * time.Millisecond,
		RebroadcastInterval: 10 * time.Millisecond,
	}
}

func TestSinkAdvertisesHopOne(t *testing.T) {
	medium := &recordingMedium{}
	table := routing.NewTable(10)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRunner(wire.NodeAddr{1, 0}, true, table, medium, testConfig(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	msg, ok := medium.last()
	if !ok {
		t.Fatal("sink never broadcast a hop count")
	}
	if msg.HopCount != 1 {
		t.Fatalf("sink advertised hop count %d, want 1", msg.HopCount)
	}
}

func TestNonSinkAdvertisesShortestPathPlusOne(t *testing.T) {
	medium := &recordingMedium{}
	table := routing.NewTable(10)
	table.UpdateHopCount(wire.NodeAddr{1, 0}, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRunner(wire.NodeAddr{2, 0}, false, table, medium, testConfig(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	msg, ok := medium.last()
	if !ok {
		t.Fatal("non-sink never broadcast a hop count")
	}
	if msg.HopCount < 2 {
		t.Fatalf("non-sink advertised hop count %d, want >= 2", msg.HopCount)
	}
}

func TestDeliverUpdatesTable(t *testing.T) {
	medium := &recordingMedium{}
	table := routing.NewTable(10)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRunner(wire.NodeAddr{2, 0}, false, table, medium, testConfig(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	go r.Run(ctx)

	r.Deliver(encodeHop(t, 3), wire.NodeAddr{1, 0})
	time.Sleep(20 * time.Millisecond)

	if n := table.Find(wire.NodeAddr{1, 0}); n == nil || n.HopCount != 3 {
		t.Fatalf("expected hop count 3 recorded for neighbor, got %+v", n)
	}
}

func encodeHop(t *testing.T, hop uint16) []byte {
	t.Helper()
	buf := make([]byte, 2)
	if _, err := wire.MarshalHopCounter(wire.HopCounterMsg{HopCount: hop}, buf); err != nil {
		t.Fatalf("marshal hop counter: %v", err)
	}
	return buf
}
