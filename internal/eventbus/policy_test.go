package eventbus

import "testing"

func TestDefaultOrder(t *testing.T) {
	if DefaultOrder(StreamSay) != "fifo" {
		t.Fatalf("expected fifo for say")
	}
	if DefaultOrder(StreamAsk) != "fifo" {
		t.Fatalf("expected fifo for ask")
	}
	if DefaultOrder(StreamAnswer) != "fifo" {
		t.Fatalf("expected fifo for answer")
	}
	if DefaultOrder(StreamStatus) != "lifo" {
		t.Fatalf("expected lifo for status")
	}
	if DefaultOrder("unknown") != "lifo" {
		t.Fatalf("expected lifo for unknown")
	}
}
