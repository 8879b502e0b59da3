package bus

import "testing"

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	b := NewEventBus()
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(ProcessEvent{Kind: EventToolStarted, Tool: "shell"})

	select {
	case ev := <-sub.Ch:
		if ev.Kind != EventToolStarted || ev.Tool != "shell" {
			t.Errorf("got %+v, want Kind=%q Tool=%q", ev, EventToolStarted, "shell")
		}
	default:
		t.Fatal("expected a queued event, got none")
	}
}

func TestPublishFansOutToEverySubscriber(t *testing.T) {
	b := NewEventBus()
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	b.Publish(ProcessEvent{Kind: EventWorkerStarted})

	for i, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.Ch:
			if ev.Kind != EventWorkerStarted {
				t.Errorf("subscriber %d got %+v", i, ev)
			}
		default:
			t.Fatalf("subscriber %d did not receive the event", i)
		}
	}
}

func TestPublishDropsOldestOnFullBuffer(t *testing.T) {
	b := NewEventBus()
	b.bufferSize = 2 // shrink so the test doesn't need 64 iterations
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Publish(ProcessEvent{Kind: EventToolStarted, Detail: "first"})
	b.Publish(ProcessEvent{Kind: EventToolStarted, Detail: "second"})
	b.Publish(ProcessEvent{Kind: EventToolStarted, Detail: "third"})

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Ch:
			got = append(got, ev.Detail)
		default:
			t.Fatalf("expected 2 queued events, got %d", i)
		}
	}

	if len(got) != 2 || got[0] != "second" || got[1] != "third" {
		t.Errorf("got %v, want the oldest event dropped and [second third] retained", got)
	}
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	b := NewEventBus()
	sub := b.Subscribe()
	sub.Unsubscribe()

	// Publish after unsubscribe should not panic even though the channel is closed.
	b.Publish(ProcessEvent{Kind: EventToolStarted})

	if len(b.subscribers) != 0 {
		t.Errorf("subscribers map len = %d, want 0 after Unsubscribe", len(b.subscribers))
	}
}
