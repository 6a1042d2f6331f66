package rigid

type pendingTask struct {
	fn   func(*World) error
	done chan error
}

// Submit queues fn to run inside the exclusive window at the next tick
// boundary. Tasks run in submission order. The returned channel receives fn's
// result once it ran, or ErrWorldClosed.
//
// fn must not call Tick, Exclusive or Flush.
func (w *World) Submit(fn func(*World) error) <-chan error {
	done := make(chan error, 1)
	w.queueMu.Lock()
	defer w.queueMu.Unlock()
	if w.closed.Load() {
		done <- ErrWorldClosed
		return done
	}
	w.pending = append(w.pending, pendingTask{fn: fn, done: done})
	return done
}

// Exclusive waits until no tick is running and runs fn, after every task
// submitted before it. Readers see the result in the next Snapshot.
//
// fn must not call Tick, Exclusive or Flush.
func (w *World) Exclusive(fn func(*World) error) error {
	if w.closed.Load() {
		return ErrWorldClosed
	}
	w.section.Lock()
	defer w.section.Unlock()
	w.exclusive.Store(true)
	w.flushPending()
	err := fn(w)
	w.exclusive.Store(false)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.publish()
	return err
}

// Flush runs submitted tasks now instead of at the next tick.
func (w *World) Flush() {
	_ = w.Exclusive(func(*World) error { return nil })
}

func (w *World) flushPending() {
	w.queueMu.Lock()
	tasks := w.pending
	w.pending = nil
	w.queueMu.Unlock()

	for _, t := range tasks {
		err := t.fn(w)
		if err != nil {
			w.Logger().Warnf("submitted task failed: %v", err)
		}
		t.done <- err
	}
}

func (w *World) failPending(err error) {
	w.queueMu.Lock()
	tasks := w.pending
	w.pending = nil
	w.queueMu.Unlock()

	for _, t := range tasks {
		t.done <- err
	}
}
