package hotplug

import "testing"

func TestEnqueueDrainFIFO(t *testing.T) {
	q := NewQueue()

	q.Enqueue(Entry{Event: Arrived, Location: "1"})
	q.Enqueue(Entry{Event: Left, Location: "2"})

	if n := q.Len(); n != 2 {
		t.Fatalf("Len() = %d, want 2", n)
	}

	entries := q.Drain()
	if len(entries) != 2 {
		t.Fatalf("Drain returned %d entries, want 2", len(entries))
	}
	if entries[0].Location != "1" || entries[1].Location != "2" {
		t.Fatalf("Drain did not preserve FIFO order: %+v", entries)
	}

	if n := q.Len(); n != 0 {
		t.Fatalf("queue should be empty after Drain, Len() = %d", n)
	}
}

func TestDrainEmptyQueue(t *testing.T) {
	q := NewQueue()
	if entries := q.Drain(); len(entries) != 0 {
		t.Fatalf("Drain on an empty queue returned %d entries", len(entries))
	}
}

func TestEventString(t *testing.T) {
	if Arrived.String() == Left.String() {
		t.Fatal("Arrived and Left should render distinctly")
	}
}

func TestGlobalQueueIsASingleton(t *testing.T) {
	if Global() != Global() {
		t.Fatal("Global() should always return the same queue")
	}
}
