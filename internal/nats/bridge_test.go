package nats

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/tension"
)

type memoryTensionSink struct {
	mu       sync.Mutex
	tensions map[string]*tension.Tension
}

func newMemoryTensionSink() *memoryTensionSink {
	return &memoryTensionSink{tensions: make(map[string]*tension.Tension)}
}

func (s *memoryTensionSink) SaveTension(t *tension.Tension) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tensions[t.ID] = t
	return nil
}

func (s *memoryTensionSink) get(id string) *tension.Tension {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tensions[id]
}

func startBridge(t *testing.T, sink TensionSink) (*Client, *events.Bus, *Bridge) {
	t.Helper()
	srv := startTestServer(t)

	client, err := NewClient(srv.URL(), nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	bus := events.NewBus(nil, nil)
	bridge := NewBridge(client, bus, sink, nil)
	require.NoError(t, bridge.Start(context.Background()))
	t.Cleanup(bridge.Stop)
	return client, bus, bridge
}

func TestBridge_MirrorsBusEvents(t *testing.T) {
	client, bus, _ := startBridge(t, nil)

	received := make(chan *Message, 1)
	_, err := client.Subscribe(SubjectEventPrefix+string(events.EventTensionAnalyzed), func(msg *Message) {
		received <- msg
	})
	require.NoError(t, err)
	require.NoError(t, client.Flush())

	bus.Publish(events.NewForTension(events.EventTensionAnalyzed, "coordinator", events.TargetAll, "t-1",
		events.PriorityNormal, map[string]interface{}{"final_score": 82.5}))

	select {
	case msg := <-received:
		var envelope EventEnvelope
		require.NoError(t, json.Unmarshal(msg.Data, &envelope))
		assert.Equal(t, string(events.EventTensionAnalyzed), envelope.Type)
		assert.Equal(t, "t-1", envelope.TensionID)
		assert.Equal(t, "coordinator", envelope.Source)
		assert.InDelta(t, 82.5, envelope.Payload["final_score"].(float64), 1e-9)
	case <-time.After(2 * time.Second):
		t.Fatal("bus event was not mirrored")
	}
}

func TestBridge_IngestsTensions(t *testing.T) {
	sink := newMemoryTensionSink()
	client, bus, _ := startBridge(t, sink)

	observer := bus.Subscribe("observer", []events.EventType{events.EventTensionCreated})

	require.NoError(t, client.PublishJSON(SubjectIngestTension, IngestTension{
		ID:          "t-ingest-1",
		Title:       "API Server Down",
		Description: "The main API server is not responding",
		Type:        string(tension.TypeProblem),
		Priority:    int(tension.PriorityCritical),
		Source:      "monitoring",
	}))
	require.NoError(t, client.Flush())

	select {
	case ev := <-observer:
		assert.Equal(t, events.EventTensionCreated, ev.Type)
		assert.Equal(t, "t-ingest-1", ev.TensionID)
		assert.Equal(t, "monitoring", ev.Source)
		assert.Equal(t, string(tension.TypeProblem), ev.Payload["tension_type"])
	case <-time.After(2 * time.Second):
		t.Fatal("ingested tension did not reach the bus")
	}

	saved := sink.get("t-ingest-1")
	require.NotNil(t, saved)
	assert.Equal(t, "API Server Down", saved.Title)
	assert.Equal(t, tension.PriorityCritical, saved.Priority)
	assert.Equal(t, tension.TypeProblem, saved.Type)
}

func TestBridge_IngestRejectsMalformed(t *testing.T) {
	sink := newMemoryTensionSink()
	client, bus, _ := startBridge(t, sink)

	observer := bus.Subscribe("observer", []events.EventType{events.EventTensionCreated})

	require.NoError(t, client.Publish(SubjectIngestTension, []byte("not json")))
	require.NoError(t, client.PublishJSON(SubjectIngestTension, IngestTension{Description: "no title"}))
	require.NoError(t, client.Flush())

	select {
	case ev := <-observer:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Empty(t, sink.tensions)
}

func TestBridge_StartStop(t *testing.T) {
	_, _, bridge := startBridge(t, nil)

	assert.Error(t, bridge.Start(context.Background()), "double start rejected")
	bridge.Stop()
	bridge.Stop()
}
