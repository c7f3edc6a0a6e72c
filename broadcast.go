package authgate

import (
	"sync"
)

// Broadcaster fans session events out to subscribers. Each subscriber owns
// an unbounded mailbox so Publish never blocks and delivery order is kept
// per subscriber.
type Broadcaster struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*mailbox
	closed bool
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[uint64]*mailbox),
	}
}

// Subscribe registers a subscriber. The initial events are queued before
// any event published after this call returns.
func (b *Broadcaster) Subscribe(initial ...SessionEvent) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	box := newMailbox(func() { b.remove(id) })

	for _, ev := range initial {
		box.push(ev)
	}

	if b.closed {
		box.shutdown()
		return box
	}

	b.subs[id] = box
	return box
}

// Publish queues ev for every current subscriber.
func (b *Broadcaster) Publish(ev SessionEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, box := range b.subs {
		box.push(ev)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Subscribers see their channel closed.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	boxes := make([]*mailbox, 0, len(b.subs))
	for id, box := range b.subs {
		boxes = append(boxes, box)
		delete(b.subs, id)
	}
	b.closed = true
	b.mu.Unlock()

	for _, box := range boxes {
		box.shutdown()
	}
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

type mailbox struct {
	mu       sync.Mutex
	queue    []SessionEvent
	signal   chan struct{}
	done     chan struct{}
	out      chan SessionEvent
	once     sync.Once
	onCancel func()
}

func newMailbox(onCancel func()) *mailbox {
	m := &mailbox{
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		out:      make(chan SessionEvent),
		onCancel: onCancel,
	}
	go m.pump()
	return m
}

func (m *mailbox) Events() <-chan SessionEvent {
	return m.out
}

func (m *mailbox) Unsubscribe() {
	m.shutdown()
	if m.onCancel != nil {
		m.onCancel()
	}
}

func (m *mailbox) shutdown() {
	m.once.Do(func() {
		close(m.done)
	})
}

func (m *mailbox) push(ev SessionEvent) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) pump() {
	defer close(m.out)

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.signal:
				continue
			case <-m.done:
				return
			}
		}
		ev := m.queue[0]
		m.queue[0] = SessionEvent{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- ev:
		case <-m.done:
			return
		}
	}
}
