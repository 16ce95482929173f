/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(EventMediaChanged)
	b := bus.Subscribe(EventMediaChanged)
	other := bus.Subscribe(EventSceneChanged)

	bus.Publish(EventMediaChanged, Payload{"current": "intro.html"})

	for _, ch := range []Subscriber{a, b} {
		select {
		case payload := <-ch:
			if payload["current"] != "intro.html" {
				t.Fatalf("wrong payload %v", payload)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber never received the event")
		}
	}

	select {
	case payload := <-other:
		t.Fatalf("wrong event type delivered: %v", payload)
	default:
	}
}

func TestSlowSubscriberIsSkippedNotWaitedOn(t *testing.T) {
	bus := NewBus()
	slow := bus.Subscribe(EventMediaChanged)

	// Fill the subscriber's buffer and then some; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(slow)+5; i++ {
			bus.Publish(EventMediaChanged, Payload{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventRosterChanged)
	bus.Unsubscribe(EventRosterChanged, sub)

	if _, ok := <-sub; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}

	// Publishing afterwards must not panic.
	bus.Publish(EventRosterChanged, Payload{"count": 0})
}
