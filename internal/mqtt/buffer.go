package mqtt

import "log"

// bufferedMsg is a serialized MQTT message waiting for a connection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer keeps the most recent messages while the broker is unreachable.
// Once full, each push evicts the oldest message.
// Not safe for concurrent use; RealPublisher guards it with its mutex.
type ringBuffer struct {
	slots   []bufferedMsg
	start   int // index of the oldest message
	count   int
	dropped int // evictions since the last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{slots: make([]bufferedMsg, capacity)}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	size := len(r.slots)
	if r.count < size {
		r.slots[(r.start+r.count)%size] = msg
		r.count++
		return
	}
	if r.dropped == 0 {
		log.Printf("mqtt: offline buffer full (%d messages), evicting oldest", size)
	}
	r.dropped++
	r.slots[r.start] = msg
	r.start = (r.start + 1) % size
}

// drainAll returns the buffered messages oldest first and empties the buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	out := make([]bufferedMsg, 0, r.count)
	for i := 0; i < r.count; i++ {
		j := (r.start + i) % len(r.slots)
		out = append(out, r.slots[j])
		r.slots[j] = bufferedMsg{}
	}
	if r.dropped > 0 {
		log.Printf("mqtt: %d buffered messages were evicted while offline", r.dropped)
	}
	r.start, r.count, r.dropped = 0, 0, 0
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
