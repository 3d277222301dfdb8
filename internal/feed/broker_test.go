package feed

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	id1, ch1 := b.Subscribe()
	id2, ch2 := b.Subscribe()
	defer b.Unsubscribe(id1)
	defer b.Unsubscribe(id2)

	evt := Event{Method: "GET", URL: "http://a.com/", Source: "monitored"}
	b.Publish(evt)

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.URL != evt.URL {
				t.Errorf("subscriber %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", b.ClientCount())
	}

	b.Unsubscribe(id)
	if b.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", b.ClientCount())
	}
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}

	// Double unsubscribe must not panic.
	b.Unsubscribe(id)
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	// Never reading: fill the buffer and then some.
	for i := 0; i < subscriberBufSize+10; i++ {
		b.Publish(Event{Method: "GET"})
	}

	if len(ch) != subscriberBufSize {
		t.Errorf("buffered events = %d, want full buffer of %d", len(ch), subscriberBufSize)
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	b := NewBroker()
	// Must not block or panic.
	b.Publish(Event{Method: "GET", URL: "http://a.com/"})
	if b.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", b.ClientCount())
	}
}
