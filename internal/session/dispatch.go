package session

import "sync"

type dispatchResult struct {
	value any
	err   error
}

// dispatcher serializes all session work onto a single goroutine.
//
// The engine is event-driven: transport callbacks, timers, and UI calls all
// funnel through here, so session state never needs shared-memory locking and
// arbitrary interleavings reduce to one total order. Work accepted before
// close is guaranteed to run; work submitted afterwards is rejected with
// ErrClosed. After the queue drains the goroutine exits.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{}
	d.cond = sync.NewCond(&d.mu)
	go d.loop()
	return d
}

func (d *dispatcher) loop() {
	d.mu.Lock()
	for {
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		fn()
		d.mu.Lock()
	}
}

func (d *dispatcher) do(fn func()) error {
	if fn == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.queue = append(d.queue, fn)
	d.cond.Signal()
	return nil
}

func (d *dispatcher) call(fn func() (any, error)) (any, error) {
	if fn == nil {
		return nil, nil
	}
	done := make(chan dispatchResult, 1)
	err := d.do(func() {
		value, err := fn()
		done <- dispatchResult{value: value, err: err}
	})
	if err != nil {
		return nil, err
	}
	res := <-done
	return res.value, res.err
}

// close stops accepting work. Already-queued work still runs, then the
// goroutine exits. Idempotent, and safe to call from dispatched work.
func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.cond.Signal()
}
