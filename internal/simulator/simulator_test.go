package simulator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/estation-sim/internal/infrastructure/mqtt"
	"github.com/nerrad567/estation-sim/internal/journal"
	"github.com/nerrad567/estation-sim/internal/station"
)

// fakeTransport is an always-available in-memory broker link.
type fakeTransport struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published map[string][]string
	closed    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		handlers:  make(map[string]mqtt.MessageHandler),
		published: make(map[string][]string),
	}
}

func (f *fakeTransport) Connect(context.Context) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return mqtt.ErrNotConnected
	}
	f.published[topic] = append(f.published[topic], string(payload))
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	f.handlers[topic] = handler
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SetConnectionLostHandler(func(error)) {}

func (f *fakeTransport) handler(filter string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[filter]
}

func (f *fakeTransport) messages(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.published[topic]...)
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	calls   int
	gate    chan struct{} // when set, Record waits for it to close
}

func (j *fakeJournal) Record(ctx context.Context, e *journal.Entry) error {
	j.mu.Lock()
	j.calls++
	gate := j.gate
	j.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	j.mu.Lock()
	j.entries = append(j.entries, *e)
	j.mu.Unlock()
	return nil
}

func (j *fakeJournal) recorded() []journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journal.Entry(nil), j.entries...)
}

func (j *fakeJournal) started() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.calls
}

type fakeMirror struct {
	mu      sync.Mutex
	records []station.Record
}

func (m *fakeMirror) WriteStationRecord(rec station.Record) {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
}

func (m *fakeMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func newTestSimulator(t *testing.T, count int, interval time.Duration) (*Simulator, *fakeTransport, *fakeJournal, *fakeMirror, *station.Fleet) {
	t.Helper()

	fleet, err := station.NewFleet(station.FleetOptions{
		Count:    count,
		StreetID: "ST_0777",
		Interval: interval,
		Seed:     1234,
	})
	if err != nil {
		t.Fatalf("NewFleet() error = %v", err)
	}

	ft := newFakeTransport()
	j := &fakeJournal{}
	m := &fakeMirror{}

	sim, err := New(Options{
		Fleet:        fleet,
		Transport:    ft,
		Targets:      station.DefaultTargets(),
		Interval:     interval,
		PollInterval: 5 * time.Millisecond,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Journal:      j,
		Mirror:       m,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return sim, ft, j, m, fleet
}

func TestNewRequiresFleetAndTransport(t *testing.T) {
	if _, err := New(Options{Transport: newFakeTransport()}); err == nil {
		t.Error("New() without fleet should fail")
	}

	fleet, _ := station.NewFleet(station.FleetOptions{Count: 1, StreetID: "ST_0777", Interval: time.Second})
	if _, err := New(Options{Fleet: fleet}); err == nil {
		t.Error("New() without transport should fail")
	}
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name        string
		topic       string
		payload     string
		wantMode    station.Mode
		wantForce   bool
		wantJournal int
	}{
		{"enter error", "sensors/ST_0777/LABJAV09-G1/alerts/x", `{"alerta":"WTH001"}`, station.ModeError, true, 1},
		{"message key", "sensors/ST_0777/LABJAV09-G1/alerts", `{"message":"WTH001"}`, station.ModeError, true, 1},
		{"plain text", "sensors/ST_0777/LABJAV09-G1/alerts/x", `  check sensor  `, station.ModeNormal, true, 1},
		{"unknown station", "sensors/ST_0777/LABJAV09-G9/alerts/x", `{"alerta":"WTH001"}`, station.ModeNormal, false, 0},
		{"malformed topic", "sensors/ST_0777", `{"alerta":"WTH001"}`, station.ModeNormal, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, _, j, _, fleet := newTestSimulator(t, 2, time.Second)
			st, _ := fleet.Get("LABJAV09-G1")

			sim.HandleMessage(tt.topic, []byte(tt.payload))

			if st.Mode() != tt.wantMode {
				t.Errorf("Mode() = %v, want %v", st.Mode(), tt.wantMode)
			}
			if st.ForcePublish() != tt.wantForce {
				t.Errorf("ForcePublish() = %v, want %v", st.ForcePublish(), tt.wantForce)
			}
			if got := len(sim.entries); got != tt.wantJournal {
				t.Fatalf("queued journal entries = %d, want %d", got, tt.wantJournal)
			}
			if tt.wantJournal == 1 {
				if e := <-sim.entries; e.Topic != tt.topic {
					t.Errorf("journal topic = %q, want %q", e.Topic, tt.topic)
				}
			}
			if got := j.started(); got != 0 {
				t.Errorf("journal written %d times from the delivery path", got)
			}
		})
	}
}

func TestHandleMessageJournalsTransition(t *testing.T) {
	sim, _, j, _, _ := newTestSimulator(t, 1, time.Second)

	sim.HandleMessage("sensors/ST_0777/LABJAV09-G1/alerts/x", []byte(`{"alerta":"WTH001"}`))
	sim.HandleMessage("sensors/ST_0777/LABJAV09-G1/alerts/x", []byte(`{"alerta":"WTH001"}`))
	sim.HandleMessage("sensors/ST_0777/LABJAV09-G1/alerts/x", []byte(`{"alerta":"WTH002"}`))

	// Entries queued before the writer starts are still written.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.writeJournal(ctx) }()
	waitFor(t, "journal entries", func() bool { return len(j.recorded()) == 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("writeJournal() error = %v", err)
	}
	entries := j.recorded()

	want := []struct {
		from, to string
		changed  bool
	}{
		{"normal", "error", true},
		{"error", "error", false},
		{"error", "normal", true},
	}
	if len(entries) != len(want) {
		t.Fatalf("journal entries = %d, want %d", len(entries), len(want))
	}
	for i, w := range want {
		e := entries[i]
		if e.FromMode != w.from || e.ToMode != w.to || e.ModeChanged != w.changed {
			t.Errorf("entry %d = %s->%s changed=%v, want %s->%s changed=%v",
				i, e.FromMode, e.ToMode, e.ModeChanged, w.from, w.to, w.changed)
		}
		if e.PayloadKind != "alerta" {
			t.Errorf("entry %d PayloadKind = %q, want alerta", i, e.PayloadKind)
		}
		if e.ReceivedAt.IsZero() {
			t.Errorf("entry %d ReceivedAt not set", i)
		}
	}
}

// TestHandleMessageSlowJournal checks that a stalled journal neither blocks
// alert delivery nor the mode change, and that overflow is dropped.
func TestHandleMessageSlowJournal(t *testing.T) {
	sim, _, j, _, fleet := newTestSimulator(t, 1, time.Second)
	gate := make(chan struct{})
	j.gate = gate

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.writeJournal(ctx) }()

	topic := "sensors/ST_0777/LABJAV09-G1/alerts"
	sim.HandleMessage(topic, []byte(`{"alerta":"WTH001"}`))
	waitFor(t, "first journal write", func() bool { return j.started() == 1 })

	extra := journalBuffer + 5
	start := time.Now()
	for range extra {
		sim.HandleMessage(topic, []byte(`{"alerta":"WTH001"}`))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("HandleMessage blocked for %v behind the journal", elapsed)
	}

	st, _ := fleet.Get("LABJAV09-G1")
	if got := st.Mode(); got != station.ModeError {
		t.Errorf("mode = %v, want error while the journal is stalled", got)
	}

	close(gate)
	want := 1 + journalBuffer
	waitFor(t, "queued journal writes", func() bool { return len(j.recorded()) == want })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("writeJournal() error = %v", err)
	}
	if got := len(j.recorded()); got != want {
		t.Errorf("journal entries = %d, want %d", got, want)
	}
}

func TestRunPublishesAndReactsToAlerts(t *testing.T) {
	sim, ft, _, mirror, _ := newTestSimulator(t, 2, 40*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sim.Run(ctx) }()

	topic := mqtt.Topics{}.Telemetry("ST_0777", "LABJAV09-G1")
	filter := mqtt.Topics{}.AlertFilter("ST_0777", "LABJAV09-G1")

	waitFor(t, "first publish", func() bool { return len(ft.messages(topic)) > 0 && ft.handler(filter) != nil })

	for _, msg := range ft.messages(topic) {
		if strings.Contains(msg, `"extra"`) {
			t.Fatalf("normal-mode record carries extra block: %s", msg)
		}
	}

	ft.handler(filter)("sensors/ST_0777/LABJAV09-G1/alerts/ops", []byte(`{"alerta":"WTH001"}`))

	waitFor(t, "error-mode publish", func() bool {
		msgs := ft.messages(topic)
		return len(msgs) > 0 && strings.Contains(msgs[len(msgs)-1], `"extra"`)
	})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if sim.Connected() {
		t.Error("Connected() = true after Run returned")
	}
	if mirror.count() == 0 {
		t.Error("mirror received no records")
	}
	if got := sim.Stats().Published; got != uint64(mirror.count()) {
		t.Errorf("Stats().Published = %d, mirror = %d", got, mirror.count())
	}

	before := len(ft.messages(topic))
	time.Sleep(60 * time.Millisecond)
	if len(ft.messages(topic)) != before {
		t.Error("records published after shutdown")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
