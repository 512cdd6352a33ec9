package scan

import "sync"

// notifier delivers listener calls in order on its own goroutine so the
// controller never calls out while holding its lock.
type notifier struct {
	listener Listener

	mu      sync.Mutex
	queue   []func(Listener)
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func newNotifier(l Listener) *notifier {
	n := &notifier{
		listener: l,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) push(fn func(Listener)) {
	if n.listener == nil {
		return
	}
	n.mu.Lock()
	n.queue = append(n.queue, fn)
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.stopped)
	for {
		select {
		case <-n.wake:
			n.drain()
		case <-n.done:
			n.drain()
			return
		}
	}
}

func (n *notifier) drain() {
	for {
		n.mu.Lock()
		batch := n.queue
		n.queue = nil
		n.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn(n.listener)
		}
	}
}

// close delivers what is queued and stops the goroutine.
func (n *notifier) close() {
	n.once.Do(func() { close(n.done) })
	<-n.stopped
}
