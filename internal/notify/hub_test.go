package notify

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// mockClient builds a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(testLogger())

	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	// Double unregister must not panic.
	hub.Unregister(c1)
	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestPublishReachesAllClients(t *testing.T) {
	hub := NewHub(testLogger())

	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)

	event := NewVerificationEvent(7, true, "clean")
	if err := hub.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	for _, c := range []*Client{c1, c2} {
		select {
		case data := <-c.send:
			var got VerificationEvent
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != EventTypeChoreVerified {
				t.Errorf("expected type %s, got %s", EventTypeChoreVerified, got.Type)
			}
			if got.ChoreID != 7 || !got.Verified || got.Explanation != "clean" {
				t.Errorf("unexpected event %+v", got)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	hub.Unregister(c1)
	hub.Unregister(c2)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(testLogger())
	c := mockClient(hub)
	hub.Register(c)

	for i := 0; i < sendBufferSize; i++ {
		if err := hub.Publish(context.Background(), NewVerificationEvent(int64(i), false, "")); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}

	// Buffer is full; this event is dropped, not blocked on.
	if err := hub.Publish(context.Background(), NewVerificationEvent(999, false, "")); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	count := 0
drain:
	for {
		select {
		case <-c.send:
			count++
		default:
			break drain
		}
	}
	if count != sendBufferSize {
		t.Fatalf("expected %d buffered events, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestPublishEmptyHub(t *testing.T) {
	hub := NewHub(testLogger())
	if err := hub.Publish(context.Background(), NewVerificationEvent(1, true, "ok")); err != nil {
		t.Fatalf("Publish on empty hub returned error: %v", err)
	}
}

func TestConcurrentRegisterPublish(t *testing.T) {
	hub := NewHub(testLogger())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			_ = hub.Publish(context.Background(), NewVerificationEvent(1, true, "ok"))
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients after concurrent churn, got %d", got)
	}
}
