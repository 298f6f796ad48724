package events

import "sync"

// ChangeNotifier wakes the scheduler loop when the job set changes. Every
// mutating facade operation signals it; the loop re-peeks its earliest job.
// Signals coalesce: a subscriber that has not drained its pending signal
// sees at most one.
type ChangeNotifier struct {
	mu     sync.Mutex
	subs   map[chan struct{}]struct{}
	closed bool
}

// NewChangeNotifier constructs an empty notifier.
func NewChangeNotifier() *ChangeNotifier {
	return &ChangeNotifier{subs: make(map[chan struct{}]struct{})}
}

// Subscribe returns a capacity-one signal channel and an unsubscribe func.
func (n *ChangeNotifier) Subscribe() (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan struct{}, 1)
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	n.subs[ch] = struct{}{}

	unsub := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[ch]; !ok {
			return
		}
		delete(n.subs, ch)
		drainAndCloseSignals(ch)
	}
	return ch, unsub
}

// Signal notifies all subscribers without blocking.
func (n *ChangeNotifier) Signal() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close unsubscribes everyone; subscribers observe a closed channel.
func (n *ChangeNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for ch := range n.subs {
		drainAndCloseSignals(ch)
		delete(n.subs, ch)
	}
}

func drainAndCloseSignals(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}
