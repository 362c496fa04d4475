package mqtt

import (
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

// OutboundMessage is a message accepted by Publish and waiting to be sent.
type OutboundMessage struct {
	Topic      string
	Payload    []byte
	QoS        byte
	Retained   bool
	EnqueuedAt time.Time

	// Attempts counts failed delivery attempts.
	Attempts int

	seq uint64
}

// outboundQueue is a bounded FIFO of pending messages.
//
// The head stays in place while it is being sent so a failed QoS 1/2
// delivery can be retried in order; ack and fail match on the sequence
// number because an overflow may have evicted the head in the meantime.
type outboundQueue struct {
	mu       sync.Mutex
	items    *queue.Queue
	capacity int
	policy   string
	nextSeq  uint64

	ready chan struct{}
}

func newOutboundQueue(capacity int, policy string) *outboundQueue {
	if capacity < 1 {
		capacity = 1
	}
	if policy != config.OverflowDropNewest {
		policy = config.OverflowDropOldest
	}
	return &outboundQueue{
		items:    queue.New(),
		capacity: capacity,
		policy:   policy,
		ready:    make(chan struct{}, 1),
	}
}

// push appends msg. If the queue is full one message is discarded according
// to the overflow policy and returned.
func (q *outboundQueue) push(msg OutboundMessage) (dropped *OutboundMessage) {
	q.mu.Lock()
	if q.items.Length() >= q.capacity {
		if q.policy == config.OverflowDropNewest {
			q.mu.Unlock()
			return &msg
		}
		oldest, _ := q.items.Remove().(*OutboundMessage) //nolint:errcheck // queue only holds *OutboundMessage
		dropped = oldest
	}
	q.nextSeq++
	msg.seq = q.nextSeq
	q.items.Add(&msg)
	q.mu.Unlock()

	q.signal()
	return dropped
}

// peek returns a copy of the head message.
func (q *outboundQueue) peek() (OutboundMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Length() == 0 {
		return OutboundMessage{}, false
	}
	head, _ := q.items.Peek().(*OutboundMessage) //nolint:errcheck // queue only holds *OutboundMessage
	return *head, true
}

// ack removes the head if it is still the message with seq.
func (q *outboundQueue) ack(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Length() == 0 {
		return false
	}
	if head, _ := q.items.Peek().(*OutboundMessage); head.seq != seq { //nolint:errcheck // queue only holds *OutboundMessage
		return false
	}
	q.items.Remove()
	return true
}

// fail records a failed attempt on the head if it is still the message with
// seq and returns the new attempt count, or 0 if the head has changed.
func (q *outboundQueue) fail(seq uint64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Length() == 0 {
		return 0
	}
	head, _ := q.items.Peek().(*OutboundMessage) //nolint:errcheck // queue only holds *OutboundMessage
	if head.seq != seq {
		return 0
	}
	head.Attempts++
	return head.Attempts
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// signal wakes the sender without blocking.
func (q *outboundQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
