package notify

import (
	"context"
	"sync"
)

// ChannelQueue is a bounded in-process queue. Dead letters are kept in
// memory, up to the queue's capacity.
type ChannelQueue struct {
	ch chan *Message

	mu   sync.Mutex
	dead []*Message
}

// NewChannelQueue creates a queue holding at most size messages.
func NewChannelQueue(size int) *ChannelQueue {
	if size <= 0 {
		size = 1
	}
	return &ChannelQueue{ch: make(chan *Message, size)}
}

func (q *ChannelQueue) Push(_ context.Context, msg *Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *ChannelQueue) Pop(ctx context.Context) (*Message, error) {
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *ChannelQueue) DeadLetter(_ context.Context, msg *Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.dead) == cap(q.ch) {
		q.dead = q.dead[1:]
	}
	q.dead = append(q.dead, msg)
	return nil
}

// DeadLetters returns the messages parked so far.
func (q *ChannelQueue) DeadLetters() []*Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Message(nil), q.dead...)
}

// Len is the number of messages waiting for delivery.
func (q *ChannelQueue) Len() int { return len(q.ch) }
