package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	nc "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/tensionos/tensiond/internal/events"
	"github.com/tensionos/tensiond/internal/tension"
)

// bridgeTarget is the bus subscription name the bridge registers under
const bridgeTarget = "nats-bridge"

// TensionSink persists ingested tensions before they enter the bus.
// The bridge tolerates a nil sink.
type TensionSink interface {
	SaveTension(t *tension.Tension) error
}

// Bridge mirrors bus events onto NATS subjects and turns externally
// submitted tensions into bus events
type Bridge struct {
	client *Client
	bus    *events.Bus
	sink   TensionSink
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	busCh   <-chan events.Event
	ingest  *nc.Subscription
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewBridge creates a bridge. sink and logger may be nil.
func NewBridge(client *Client, bus *events.Bus, sink TensionSink, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		client: client,
		bus:    bus,
		sink:   sink,
		logger: logger.Named("bridge"),
	}
}

// Start subscribes to the bus and to the ingest subjects
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("bridge already running")
	}

	b.busCh = b.bus.Subscribe(bridgeTarget, nil)
	b.done = make(chan struct{})

	sub, err := b.client.QueueSubscribe(SubjectAllIngest, IngestQueue, b.handleIngest)
	if err != nil {
		b.bus.Unsubscribe(bridgeTarget, b.busCh)
		return err
	}
	b.ingest = sub

	b.wg.Add(1)
	go b.mirrorLoop(ctx)

	b.running = true
	b.logger.Info("bridge started")
	return nil
}

// Stop tears down both directions. Safe to call twice.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	close(b.done)
	if b.ingest != nil {
		b.ingest.Unsubscribe()
		b.ingest = nil
	}
	b.bus.Unsubscribe(bridgeTarget, b.busCh)
	b.wg.Wait()
	b.running = false
	b.logger.Info("bridge stopped")
}

// mirrorLoop forwards every bus event to its NATS subject
func (b *Bridge) mirrorLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case ev, ok := <-b.busCh:
			if !ok {
				return
			}
			b.mirror(ev)
		case <-b.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) mirror(ev events.Event) {
	envelope := EventEnvelope{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Source:    ev.Source,
		TensionID: ev.TensionID,
		Priority:  ev.Priority,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt,
	}
	subject := SubjectEventPrefix + string(ev.Type)
	if err := b.client.PublishJSON(subject, envelope); err != nil {
		b.logger.Warn("failed to mirror event",
			zap.String("subject", subject),
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}
}

// handleIngest converts one submitted tension into a bus event
func (b *Bridge) handleIngest(msg *Message) {
	var submitted IngestTension
	if err := json.Unmarshal(msg.Data, &submitted); err != nil {
		b.logger.Warn("failed to decode ingest message",
			zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if submitted.Title == "" {
		b.logger.Warn("ingest message missing title", zap.String("subject", msg.Subject))
		return
	}

	t := tension.New(submitted.Title, submitted.Description, tension.Type(submitted.Type))
	if t.Type == "" {
		t.Type = tension.TypeUnknown
	}
	if submitted.ID != "" {
		t.ID = submitted.ID
	}
	if p := tension.Priority(submitted.Priority); p > tension.PriorityLow && p <= tension.PriorityCritical {
		t.Priority = p
	}

	if b.sink != nil {
		if err := b.sink.SaveTension(t); err != nil {
			b.logger.Warn("failed to persist ingested tension",
				zap.String("tension_id", t.ID), zap.Error(err))
		}
	}

	source := bridgeTarget
	if submitted.Source != "" {
		source = submitted.Source
	}
	b.bus.Publish(events.NewForTension(events.EventTensionCreated, source, events.TargetAll, t.ID,
		events.PriorityNormal, map[string]interface{}{
			"title":        t.Title,
			"description":  t.Description,
			"tension_type": string(t.Type),
			"priority":     int(t.Priority),
		}))
	b.logger.Debug("tension ingested", zap.String("tension_id", t.ID))
}
