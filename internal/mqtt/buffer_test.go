package mqtt

import "testing"

func pushN(rb *ringBuffer, from, to int) {
	for i := from; i < to; i++ {
		rb.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}})
	}
}

func payloads(msgs []bufferedMsg) []byte {
	out := make([]byte, len(msgs))
	for i, m := range msgs {
		out[i] = m.payload[0]
	}
	return out
}

func TestRingBufferFIFO(t *testing.T) {
	rb := newRingBuffer(10)
	pushN(rb, 0, 5)

	got := payloads(rb.drainAll())
	if string(got) != string([]byte{0, 1, 2, 3, 4}) {
		t.Errorf("unexpected order: %v", got)
	}
	if again := rb.drainAll(); again != nil {
		t.Errorf("expected nil from second drain, got %d items", len(again))
	}
}

func TestRingBufferOverflowKeepsNewest(t *testing.T) {
	rb := newRingBuffer(5)

	var firstDrops int
	for i := 0; i < 8; i++ {
		if rb.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}}) {
			firstDrops++
		}
	}
	if firstDrops != 1 {
		t.Errorf("expected the first drop to be reported once, got %d", firstDrops)
	}

	got := payloads(rb.drainAll())
	if string(got) != string([]byte{3, 4, 5, 6, 7}) {
		t.Errorf("unexpected contents: %v", got)
	}

	// Drop reporting re-arms after a drain.
	pushN(rb, 0, 5)
	if !rb.push(bufferedMsg{topic: "t", payload: []byte{9}}) {
		t.Error("expected drop to be reported again after drain")
	}
}

func TestRingBufferZeroCapacity(t *testing.T) {
	rb := newRingBuffer(0)
	if !rb.push(bufferedMsg{topic: "t"}) {
		t.Error("expected first push to report a drop")
	}
	if rb.len() != 0 {
		t.Errorf("expected len 0, got %d", rb.len())
	}
	if rb.drainAll() != nil {
		t.Error("expected nothing buffered")
	}
}

func TestRingBufferReplace(t *testing.T) {
	rb := newRingBuffer(10)
	rb.replace(bufferedMsg{topic: "sonoff/a/state", payload: []byte("ON"), retained: true})
	rb.push(bufferedMsg{topic: "sonoff/a/system", payload: []byte("x")})
	rb.replace(bufferedMsg{topic: "sonoff/a/state", payload: []byte("OFF"), retained: true})

	got := rb.drainAll()
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %d", len(got))
	}
	if got[0].topic != "sonoff/a/system" {
		t.Errorf("expected system message first, got %s", got[0].topic)
	}
	if string(got[1].payload) != "OFF" || !got[1].retained {
		t.Errorf("expected latest retained state, got %s retained=%v", got[1].payload, got[1].retained)
	}
}

func TestRingBufferLen(t *testing.T) {
	rb := newRingBuffer(10)
	pushN(rb, 0, 2)
	if rb.len() != 2 {
		t.Errorf("expected len 2, got %d", rb.len())
	}
	rb.drainAll()
	if rb.len() != 0 {
		t.Errorf("expected len 0 after drain, got %d", rb.len())
	}
}
