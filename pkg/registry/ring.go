package registry

import "github.com/cliproom/cliproom/pkg/wire"

// RingCapacity bounds each room's in-memory message history.
const RingCapacity = 100

// messageRing is a bounded FIFO of messages. Appending past capacity evicts
// the oldest entry. Not safe for concurrent use; callers hold the room lock.
type messageRing struct {
	entries []wire.Message
	cap     int
}

func newMessageRing(capacity int) *messageRing {
	return &messageRing{cap: capacity}
}

// append adds a message, evicting the oldest when full.
func (r *messageRing) append(msg wire.Message) {
	if len(r.entries) == r.cap {
		copy(r.entries, r.entries[1:])
		r.entries[len(r.entries)-1] = msg
		return
	}
	r.entries = append(r.entries, msg)
}

// remove deletes the message with the given id, preserving order.
func (r *messageRing) remove(messageID string) (wire.Message, bool) {
	for i, m := range r.entries {
		if m.ID == messageID {
			removed := m
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return removed, true
		}
	}
	return wire.Message{}, false
}

// find returns the message with the given id.
func (r *messageRing) find(messageID string) (wire.Message, bool) {
	for _, m := range r.entries {
		if m.ID == messageID {
			return m, true
		}
	}
	return wire.Message{}, false
}

// snapshot copies the newest n messages in insertion order. n <= 0 means all.
func (r *messageRing) snapshot(n int) []wire.Message {
	entries := r.entries
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]wire.Message, len(entries))
	copy(out, entries)
	return out
}

func (r *messageRing) len() int { return len(r.entries) }
