package mqtt

// bufferedMsg is a publish held back while the broker is unreachable.
type bufferedMsg struct {
	topic    string
	payload  []byte
	retained bool
	// latest marks state topics where only the newest value matters.
	latest bool
}

// offlineQueue is a bounded FIFO of publishes awaiting replay. When full the
// oldest message is dropped. A latest-only message replaces any queued
// message for the same topic.
// Not safe for concurrent use; caller must synchronize.
type offlineQueue struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int // since last drain
}

func newOfflineQueue(capacity int) *offlineQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &offlineQueue{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
	}
}

// push queues msg and reports whether an older message had to be dropped.
func (q *offlineQueue) push(msg bufferedMsg) bool {
	if msg.latest {
		for i, m := range q.msgs {
			if m.topic == msg.topic {
				q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
				break
			}
		}
	}
	dropped := false
	if len(q.msgs) == q.capacity {
		q.msgs = append(q.msgs[:0], q.msgs[1:]...)
		q.dropped++
		dropped = true
	}
	q.msgs = append(q.msgs, msg)
	return dropped
}

// drain returns queued messages oldest first and empties the queue.
func (q *offlineQueue) drain() []bufferedMsg {
	if len(q.msgs) == 0 {
		return nil
	}
	out := make([]bufferedMsg, len(q.msgs))
	copy(out, q.msgs)
	q.msgs = q.msgs[:0]
	q.dropped = 0
	return out
}

func (q *offlineQueue) len() int {
	return len(q.msgs)
}
