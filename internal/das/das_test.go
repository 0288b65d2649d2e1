package das

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/RodrigoJC20/tinymq-client/internal/store"
)

// pipePort adapts an io.Pipe pair into the narrow serialPort interface
// used by the service, letting tests feed lines without real hardware.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
}

func newPipePort() (*pipePort, *io.PipeWriter) {
	pr, pw := io.Pipe()
	return &pipePort{r: pr}, pw
}

func (p *pipePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	cp := append([]byte(nil), b...)
	p.writes = append(p.writes, cp)
	return len(b), nil
}

func (p *pipePort) Close() error { return p.r.Close() }

func (p *pipePort) lastWrite() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writes) == 0 {
		return nil
	}
	return p.writes[len(p.writes)-1]
}

// fakeStore records readings; the embedded store.Store is nil, so any
// method other than AddReading panics if the service ever calls it.
type fakeStore struct {
	store.Store

	mu       sync.Mutex
	readings []string
}

func (f *fakeStore) AddReading(name, value string, timestamp int64, units string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readings = append(f.readings, fmt.Sprintf("%s=%s%s@%d", name, value, units, timestamp))
	return nil
}

func newTestService(t *testing.T) (*Service, *io.PipeWriter, *fakeStore) {
	t.Helper()
	fs := &fakeStore{}
	svc := New(fs, "COM-test", 115200)
	port, pw := newPipePort()
	svc.openPort = func(name string, mode *serial.Mode) (serialPort, error) {
		return port, nil
	}
	if !svc.Start(false) {
		t.Fatalf("Start: expected initial open to succeed")
	}
	t.Cleanup(svc.Stop)
	return svc, pw, fs
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSerialIngestArrayOfReadings(t *testing.T) {
	svc, pw, fs := newTestService(t)

	type event struct {
		name  string
		value string
		units string
	}
	var mu sync.Mutex
	var received []event

	svc.AddDataCallback(func(name string, r Reading) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event{name, r.Value, r.Units})
	})

	_, err := pw.Write([]byte(`[{"name":"t","value":24.1,"units":"C"},{"name":"h","value":55,"units":"%"}]` + "\n"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0].name != "t" || received[0].units != "C" {
		t.Fatalf("got %+v, want t/C first", received[0])
	}
	if received[1].name != "h" || received[1].units != "%" {
		t.Fatalf("got %+v, want h/%%", received[1])
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.readings) != 2 {
		t.Fatalf("got %d persisted readings, want 2", len(fs.readings))
	}
}

func TestSerialIngestIgnoresAcknowledgements(t *testing.T) {
	svc, pw, fs := newTestService(t)

	var calls int
	svc.AddDataCallback(func(string, Reading) { calls++ })

	if _, err := pw.Write([]byte(`{"result":"ok"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := pw.Write([]byte(`{"name":"t","value":10}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitForCondition(t, time.Second, func() bool { return calls == 1 })

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.readings) != 1 {
		t.Fatalf("got %d persisted readings, want 1 (ack line must not persist)", len(fs.readings))
	}
}

func TestSendCommandWritesNewlineTerminatedJSON(t *testing.T) {
	svc, _, _ := newTestService(t)

	if err := svc.SendCommand(map[string]any{"command": "set_fan", "value": 1}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	port := svc.conn.(*pipePort)
	waitForCondition(t, time.Second, func() bool { return port.lastWrite() != nil })

	last := string(port.lastWrite())
	if last[len(last)-1] != '\n' {
		t.Fatalf("command not newline-terminated: %q", last)
	}
}

func TestClearCallbacksRemovesAll(t *testing.T) {
	svc, pw, _ := newTestService(t)

	var calls int
	svc.AddDataCallback(func(string, Reading) { calls++ })
	svc.ClearCallbacks()

	if _, err := pw.Write([]byte(`{"name":"t","value":1}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Give the reader a moment; since no callback is registered, calls
	// must stay at zero regardless.
	time.Sleep(50 * time.Millisecond)
	if calls != 0 {
		t.Fatalf("got %d calls after ClearCallbacks, want 0", calls)
	}
}

func TestStatsReportsCallbackCount(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.AddDataCallback(func(string, Reading) {})
	svc.AddDataCallback(func(string, Reading) {})

	stats := svc.Stats()
	if !stats.Running || stats.Callbacks != 2 || stats.Port != "COM-test" {
		t.Fatalf("got %+v", stats)
	}
}
