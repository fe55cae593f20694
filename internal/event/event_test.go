package event

import (
	"sync"
	"testing"
)

func TestQueueDrainIsFIFO(t *testing.T) {
	var q Queue[int]
	for i := 0; i < 5; i++ {
		q.Send(i)
	}
	if q.Len() != 5 {
		t.Fatalf("expected 5 pending, got %d", q.Len())
	}
	got := q.Drain()
	for i, v := range got {
		if v != i {
			t.Fatalf("position %d: got %d", i, v)
		}
	}
	if rest := q.Drain(); len(rest) != 0 {
		t.Fatalf("expected empty queue after drain, got %v", rest)
	}
}

func TestQueueConcurrentSend(t *testing.T) {
	var q Queue[int]
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Send(j)
			}
		}()
	}
	wg.Wait()
	if n := len(q.Drain()); n != 800 {
		t.Fatalf("expected 800 messages, got %d", n)
	}
}

func TestBusDeliversToEachSubscriberOnce(t *testing.T) {
	var b Bus[string]
	early := b.Subscribe()
	b.Publish("a")
	late := b.Subscribe()
	b.Publish("b")

	if got := early.Read(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("early subscriber got %v", got)
	}
	if got := late.Read(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("late subscriber got %v", got)
	}
	if got := early.Read(); len(got) != 0 {
		t.Fatalf("expected nothing new, got %v", got)
	}
}
