package pty

import "testing"

func TestRingBufferWriteOrder(t *testing.T) {
	rb := NewRingBuffer(3)

	rb.Write("A")
	rb.Write("B")
	got := rb.Lines()
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("unexpected lines after 2 writes: %#v", got)
	}

	rb.Write("C")
	rb.Write("D")
	got = rb.Lines()
	if len(got) != 3 || got[0] != "B" || got[1] != "C" || got[2] != "D" {
		t.Fatalf("unexpected lines after overwrite: %#v", got)
	}
}

func TestRingBufferTail(t *testing.T) {
	rb := NewRingBuffer(4)
	for _, l := range []string{"1", "2", "3", "4", "5", "6"} {
		rb.Write(l)
	}

	got := rb.Tail(2)
	if len(got) != 2 || got[0] != "5" || got[1] != "6" {
		t.Fatalf("Tail(2) = %#v", got)
	}

	got = rb.Tail(10)
	if len(got) != 4 || got[0] != "3" || got[3] != "6" {
		t.Fatalf("Tail(10) = %#v", got)
	}
}

func TestRingBufferClear(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Write("A")
	rb.Write("B")
	rb.Clear()

	if rb.Size() != 0 {
		t.Fatalf("expected size 0 after clear, got %d", rb.Size())
	}
	if got := rb.Lines(); len(got) != 0 {
		t.Fatalf("expected no lines after clear, got %#v", got)
	}

	rb.Write("C")
	got := rb.Lines()
	if len(got) != 1 || got[0] != "C" {
		t.Fatalf("unexpected lines after clear/write: %#v", got)
	}
}

func TestRingBufferDefaultCapacity(t *testing.T) {
	if got := NewRingBuffer(0).Capacity(); got != 200 {
		t.Fatalf("default capacity = %d, want 200", got)
	}
}
