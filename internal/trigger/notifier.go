// Package trigger provides the in-process notification bus used for
// fire-and-forget invocations between pipeline stages: ingester to
// cleaner, and cleaner to aggregator.
//
// Delivery is at-least-once in spirit, not in mechanism: a full
// subscriber buffer drops the notification, and the publisher reports
// the drop. Correctness relies on the receiving stage being an
// idempotent full-partition overwrite, so any dropped trigger can be
// replayed later (manually or by a sweep) without harm.
package trigger

import (
	"sync"
	"time"
)

// Kind represents the type of notification.
type Kind int

const (
	// RawBatchStored fires when a raw CSV batch lands in object storage.
	RawBatchStored Kind = iota

	// SilverWritten fires when the cleaner replaces a silver day partition.
	SilverWritten
)

// Notification is the invocation payload passed between stages.
type Notification struct {
	Kind Kind

	// Bucket and Key reference the stored artifact.
	Bucket string
	Key    string

	// Day is the partition day (YYYY-MM-DD); set for SilverWritten.
	Day string

	// Timestamp is the publish time (Unix seconds).
	Timestamp int64
}

// Notifier is an in-process pub/sub bus with non-blocking publish.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
}

// NewNotifier creates a notifier whose subscribers buffer up to
// bufferSize pending notifications.
func NewNotifier(bufferSize int) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Notifier{bufferSize: bufferSize}
}

// Publish sends a notification to all subscribers interested in its
// kind. It never blocks: a subscriber with a full buffer misses the
// notification. Returns the number of subscribers that missed it.
func (n *Notifier) Publish(notif Notification) int {
	if notif.Timestamp == 0 {
		notif.Timestamp = time.Now().Unix()
	}

	dropped := 0
	n.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscriber)
		if !sub.wants(notif.Kind) {
			return true
		}
		select {
		case sub.Ch <- notif:
		default:
			// Buffer full - drop rather than block the publishing stage
			dropped++
		}
		return true
	})
	return dropped
}

// Subscribe registers a subscriber for the given kinds (all kinds when
// none are given).
func (n *Notifier) Subscribe(id string, kinds ...Kind) *Subscriber {
	sub := &Subscriber{
		ID:    id,
		Kinds: kinds,
		Ch:    make(chan Notification, n.bufferSize),
	}
	n.subscribers.Store(id, sub)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	if value, ok := n.subscribers.LoadAndDelete(id); ok {
		close(value.(*Subscriber).Ch)
	}
}

// Subscriber receives notifications on Ch until unsubscribed.
type Subscriber struct {
	ID    string
	Kinds []Kind
	Ch    chan Notification
}

func (s *Subscriber) wants(kind Kind) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
