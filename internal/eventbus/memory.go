package eventbus

import (
	"context"
	"sort"
	"strconv"
	"sync"
)

// Message is a published entry as recorded by MemoryBus.
type Message struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
}

type memGroup struct {
	next    int
	pending map[int]int // entry index -> deliveries so far
}

type memTopic struct {
	entries []Message
	groups  map[string]*memGroup
}

// MemoryBus is an in-process Bus with the same ordering and redelivery
// semantics as the Redis Streams bus. It backs tests and local runs.
type MemoryBus struct {
	mu         sync.Mutex
	topics     map[string]*memTopic
	notify     chan struct{}
	publishErr error
	closed     bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics: make(map[string]*memTopic),
		notify: make(chan struct{}),
	}
}

func (b *MemoryBus) topic(name string) *memTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{groups: make(map[string]*memGroup)}
		b.topics[name] = t
	}
	return t
}

// FailPublishes makes every Publish return err until called with nil.
func (b *MemoryBus) FailPublishes(err error) {
	b.mu.Lock()
	b.publishErr = err
	b.mu.Unlock()
}

func (b *MemoryBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.publishErr != nil {
		return b.publishErr
	}

	t := b.topic(topic)
	data := make([]byte, len(payload))
	copy(data, payload)
	t.entries = append(t.entries, Message{
		ID:      strconv.Itoa(len(t.entries) + 1),
		Topic:   topic,
		Key:     key,
		Payload: data,
	})

	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// Published returns a copy of everything published on topic, in order.
func (b *MemoryBus) Published(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok {
		return nil
	}
	out := make([]Message, len(t.entries))
	copy(out, t.entries)
	return out
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic, group, consumer string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	t := b.topic(topic)
	if _, ok := t.groups[group]; !ok {
		t.groups[group] = &memGroup{pending: make(map[int]int)}
	}
	return &memStream{bus: b, topic: topic, group: group}, nil
}

// Close wakes every blocked reader and rejects further use.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

type memStream struct {
	bus   *MemoryBus
	topic string
	group string
}

// TryNext returns the next delivery without blocking. ok is false when the
// group has nothing pending and nothing new.
func (s *memStream) TryNext() (Delivery, bool) {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	d, ok, _ := s.nextLocked()
	return d, ok
}

func (s *memStream) nextLocked() (Delivery, bool, <-chan struct{}) {
	t := s.bus.topic(s.topic)
	g := t.groups[s.group]

	idx := -1
	if len(g.pending) > 0 {
		keys := make([]int, 0, len(g.pending))
		for k := range g.pending {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		idx = keys[0]
	} else if g.next < len(t.entries) {
		idx = g.next
		g.next++
	}

	if idx < 0 {
		return Delivery{}, false, s.bus.notify
	}

	g.pending[idx]++
	entry := t.entries[idx]
	return NewDelivery(entry.ID, entry.Topic, entry.Key, entry.Payload, g.pending[idx], func(context.Context) error {
		s.bus.mu.Lock()
		delete(g.pending, idx)
		s.bus.mu.Unlock()
		return nil
	}), true, nil
}

func (s *memStream) Next(ctx context.Context) (Delivery, error) {
	for {
		s.bus.mu.Lock()
		if s.bus.closed {
			s.bus.mu.Unlock()
			return Delivery{}, ErrClosed
		}
		d, ok, wait := s.nextLocked()
		s.bus.mu.Unlock()

		if ok {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-wait:
		}
	}
}

func (s *memStream) Close() error {
	return nil
}

// Drain hands every currently available delivery for topic/group to h,
// acknowledging after success, and returns the first handler error. It is a
// synchronous stand-in for Processor in tests.
func (b *MemoryBus) Drain(ctx context.Context, topic, group string, h Handler) error {
	st, err := b.Subscribe(ctx, topic, group, group)
	if err != nil {
		return err
	}
	s := st.(*memStream)

	for {
		d, ok := s.TryNext()
		if !ok {
			return nil
		}
		if err := h(ctx, d); err != nil {
			return err
		}
		if err := d.Ack(ctx); err != nil {
			return err
		}
	}
}
