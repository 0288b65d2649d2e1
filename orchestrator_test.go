package tinymq

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/RodrigoJC20/tinymq-client/internal/das"
	"github.com/RodrigoJC20/tinymq-client/internal/store"
	"github.com/RodrigoJC20/tinymq-client/internal/wire"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tinymq.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestOrchestratorRunInstallsOneCallbackPerPublishedTopic exercises
// testable property 6: after Run, the DAS holds exactly one callback
// for the owner's reading handler plus one per published topic.
func TestOrchestratorRunInstallsOneCallbackPerPublishedTopic(t *testing.T) {
	db := openTestStore(t)
	if err := db.AddReading("temp", "21", 1, "C"); err != nil {
		t.Fatalf("seed sensor: %v", err)
	}
	if err := db.CreateTopic("weather", true); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if err := db.CreateTopic("debug", false); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if err := db.AddSensorToTopic("weather", "temp"); err != nil {
		t.Fatalf("AddSensorToTopic: %v", err)
	}

	client, _, _ := connectTestClient(t, "alice")
	service := das.New(db, "", 0)

	readings := 0
	orch := NewPublishOrchestrator(client, db, service, func(string, das.Reading) { readings++ })

	if err := orch.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	stats := service.Stats()
	if stats.Callbacks != 2 {
		t.Fatalf("got %d callbacks, want 2 (onReading + one published topic)", stats.Callbacks)
	}

	// Running again must clear and reinstall rather than accumulate.
	if err := orch.Run(); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	stats = service.Stats()
	if stats.Callbacks != 2 {
		t.Fatalf("got %d callbacks after second Run, want 2 (clear-and-reinstall)", stats.Callbacks)
	}
}

// TestOrchestratorPublishCallbackGatesOnMembershipAndFlag exercises
// testable property 5: a callback re-reads publish_flag on every
// invocation, so toggling it off suppresses publishing immediately,
// without waiting for the orchestrator to re-run.
func TestOrchestratorPublishCallbackGatesOnMembershipAndFlag(t *testing.T) {
	db := openTestStore(t)
	if err := db.AddReading("temp", "21", 1, "C"); err != nil {
		t.Fatalf("seed sensor: %v", err)
	}
	if err := db.AddReading("humidity", "55", 1, "%"); err != nil {
		t.Fatalf("seed sensor: %v", err)
	}
	if err := db.CreateTopic("weather", true); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if err := db.AddSensorToTopic("weather", "temp"); err != nil {
		t.Fatalf("AddSensorToTopic: %v", err)
	}

	client, frames, _ := connectTestClient(t, "alice")
	service := das.New(db, "", 0)
	orch := NewPublishOrchestrator(client, db, service, nil)

	cb := orch.publishCallbackFor("weather", map[string]bool{"temp": true})

	cb("humidity", das.Reading{Value: "60", Timestamp: 2, Units: "%"})
	select {
	case f := <-frames:
		t.Fatalf("unexpected publish for non-member sensor: %v", f)
	case <-time.After(30 * time.Millisecond):
	}

	cb("temp", das.Reading{Value: "22", Timestamp: 3, Units: "C"})
	frame := mustReceiveFrame(t, frames)
	if frame.Type != wire.PUB {
		t.Fatalf("got %s, want PUB", frame.Type)
	}
	topicLen := int(frame.Payload[0])
	var body map[string]any
	if err := json.Unmarshal(frame.Payload[1+topicLen:], &body); err != nil {
		t.Fatalf("decode publish body: %v", err)
	}
	if body["sensor"] != "temp" || body["value"] != "22" {
		t.Fatalf("got %+v, want sensor=temp value=22", body)
	}

	if err := db.SetTopicPublish("weather", false); err != nil {
		t.Fatalf("SetTopicPublish: %v", err)
	}
	cb("temp", das.Reading{Value: "23", Timestamp: 4, Units: "C"})
	select {
	case f := <-frames:
		t.Fatalf("unexpected publish after publish_flag cleared: %v", f)
	case <-time.After(30 * time.Millisecond):
	}
}
