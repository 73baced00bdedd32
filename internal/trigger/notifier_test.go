package trigger

import (
	"testing"
	"time"
)

func TestNotifier_PublishSubscribe(t *testing.T) {
	n := NewNotifier(4)
	sub := n.Subscribe("cleaner", RawBatchStored)
	defer n.Unsubscribe("cleaner")

	dropped := n.Publish(Notification{Kind: RawBatchStored, Key: "raw/2025/09/01/080000.csv"})
	if dropped != 0 {
		t.Fatalf("dropped = %d, want 0", dropped)
	}

	select {
	case got := <-sub.Ch:
		if got.Key != "raw/2025/09/01/080000.csv" {
			t.Errorf("key = %s", got.Key)
		}
		if got.Timestamp == 0 {
			t.Error("timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestNotifier_FiltersByKind(t *testing.T) {
	n := NewNotifier(4)
	sub := n.Subscribe("aggregator", SilverWritten)
	defer n.Unsubscribe("aggregator")

	n.Publish(Notification{Kind: RawBatchStored, Key: "raw/x.csv"})
	n.Publish(Notification{Kind: SilverWritten, Key: "silver/date=2025-09-01/clean.sqlite", Day: "2025-09-01"})

	select {
	case got := <-sub.Ch:
		if got.Kind != SilverWritten || got.Day != "2025-09-01" {
			t.Errorf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	select {
	case got := <-sub.Ch:
		t.Errorf("unexpected extra notification %+v", got)
	default:
	}
}

func TestNotifier_DropsWhenBufferFull(t *testing.T) {
	n := NewNotifier(1)
	n.Subscribe("slow", SilverWritten)
	defer n.Unsubscribe("slow")

	if dropped := n.Publish(Notification{Kind: SilverWritten, Day: "2025-09-01"}); dropped != 0 {
		t.Fatalf("first publish dropped = %d", dropped)
	}
	if dropped := n.Publish(Notification{Kind: SilverWritten, Day: "2025-09-02"}); dropped != 1 {
		t.Fatalf("second publish dropped = %d, want 1", dropped)
	}
}

func TestNotifier_UnsubscribeClosesChannel(t *testing.T) {
	n := NewNotifier(4)
	sub := n.Subscribe("cleaner")
	n.Unsubscribe("cleaner")

	if _, ok := <-sub.Ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if dropped := n.Publish(Notification{Kind: RawBatchStored}); dropped != 0 {
		t.Errorf("publish after unsubscribe dropped = %d", dropped)
	}
}
