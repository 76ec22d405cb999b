package channel

import "sync"

// Broadcaster fans values out to any number of subscribers. Every subscriber
// has its own unbounded queue, so a slow reader never blocks Publish and never
// misses a value. Values reach each subscriber in publish order.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	subs    map[*Subscription[T]]struct{}
	closed  bool
	replay  bool
	current T
}

// NewBroadcaster creates a plain broadcaster: subscribers only see values published after they subscribe.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[*Subscription[T]]struct{})}
}

// NewBehavior creates a broadcaster that remembers the latest value and hands
// it to every new subscriber first.
func NewBehavior[T any](initial T) *Broadcaster[T] {
	b := NewBroadcaster[T]()
	b.replay = true
	b.current = initial
	return b
}

// Subscribe attaches a new subscriber. Subscribing to a closed broadcaster
// returns a subscription whose channel is already closed (after the replayed value, if any).
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	s := newSubscription[T](b)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.replay {
		s.push(b.current)
	}
	if b.closed {
		s.finish()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers v to every current subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.replay {
		b.current = v
	}
	for s := range b.subs {
		s.push(v)
	}
}

// Current returns the latest value of a behavior broadcaster.
func (b *Broadcaster[T]) Current() T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Len returns the number of attached subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops publishing. Subscribers receive what is already queued, then their channel closes.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.finish()
	}
	b.subs = nil
}

func (b *Broadcaster[T]) remove(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Subscription is one subscriber of a Broadcaster.
type Subscription[T any] struct {
	owner *Broadcaster[T]
	out   chan T

	mu       sync.Mutex
	queue    []T
	finished bool

	notify   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newSubscription[T any](owner *Broadcaster[T]) *Subscription[T] {
	s := &Subscription[T]{
		owner:  owner,
		out:    make(chan T),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// C returns the channel values are delivered on. It is closed when the
// subscription or its broadcaster is closed.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Close detaches the subscriber and drops anything still queued.
func (s *Subscription[T]) Close() {
	s.stopOnce.Do(func() {
		s.owner.remove(s)
		close(s.stop)
	})
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	var zero T
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if s.finished {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			select {
			case <-s.notify:
			case <-s.stop:
				return
			}
			s.mu.Lock()
		}
		v := s.queue[0]
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.stop:
			return
		}
	}
}
