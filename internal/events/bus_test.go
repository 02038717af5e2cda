package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(nil, nil)

	ch := bus.Subscribe("agent-1", []EventType{EventTensionCreated})

	event := NewForTension(EventTensionCreated, "coordinator", "agent-1", "tension-1", PriorityNormal, map[string]interface{}{
		"title": "API Server Down",
	})
	bus.Publish(event)

	select {
	case received := <-ch:
		if received.ID != event.ID {
			t.Errorf("Expected event ID %s, got %s", event.ID, received.ID)
		}
		if received.TensionID != "tension-1" {
			t.Errorf("Expected tension ID tension-1, got %s", received.TensionID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive event within timeout")
	}

	bus.Unsubscribe("agent-1", ch)
}

func TestBus_FilterByType(t *testing.T) {
	bus := NewBus(nil, nil)

	ch := bus.Subscribe("agent-1", []EventType{EventBugReported})

	bus.Publish(New(EventBugReported, "bridge", "agent-1", PriorityHigh, nil))

	select {
	case received := <-ch:
		if received.Type != EventBugReported {
			t.Errorf("Expected event type %s, got %s", EventBugReported, received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Did not receive bug report event")
	}

	// An unsubscribed type must not arrive
	bus.Publish(New(EventTrendDetected, "bridge", "agent-1", PriorityNormal, nil))

	select {
	case received := <-ch:
		t.Errorf("Should not have received event type %s", received.Type)
	case <-time.After(100 * time.Millisecond):
	}

	bus.Unsubscribe("agent-1", ch)
}

func TestBus_BroadcastAll(t *testing.T) {
	bus := NewBus(nil, nil)

	ch1 := bus.Subscribe("agent-1", nil)
	ch2 := bus.Subscribe("agent-2", nil)

	bus.Publish(New(EventEcosystemOptimized, "optimizer", TargetAll, PriorityNormal, nil))

	for name, ch := range map[string]<-chan Event{"agent-1": ch1, "agent-2": ch2} {
		select {
		case received := <-ch:
			if received.Type != EventEcosystemOptimized {
				t.Errorf("%s: unexpected event type %s", name, received.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("%s did not receive broadcast", name)
		}
	}
}

func TestBus_TargetedDeliveryExcludesOthers(t *testing.T) {
	bus := NewBus(nil, nil)

	ch1 := bus.Subscribe("agent-1", nil)
	ch2 := bus.Subscribe("agent-2", nil)

	bus.Publish(New(EventTensionAssigned, "registry", "agent-1", PriorityNormal, nil))

	select {
	case <-ch1:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("agent-1 did not receive targeted event")
	}

	select {
	case received := <-ch2:
		t.Errorf("agent-2 should not have received event %s", received.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil, nil)

	ch := bus.Subscribe("agent-1", nil)
	bus.Unsubscribe("agent-1", ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Expected channel to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic
	bus.Publish(New(EventTensionCreated, "coordinator", "agent-1", PriorityNormal, nil))
}
