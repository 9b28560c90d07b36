package reporter

import (
	"context"
	"errors"
	"time"

	"aem-reporter/internal/graph"
)

var ErrClosed = errors.New("reporter closed")

// dispatch appends task to the worker queue. It never blocks and reports
// false once the reporter is closed.
func (r *Reporter) dispatch(task func()) bool {
	r.qmu.Lock()
	if r.closed {
		r.qmu.Unlock()
		return false
	}
	r.pending = append(r.pending, task)
	r.qmu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

func (r *Reporter) loop() {
	defer close(r.stopped)
	for {
		r.qmu.Lock()
		tasks := r.pending
		r.pending = nil
		closed := r.closed
		r.qmu.Unlock()

		for _, task := range tasks {
			task()
		}
		if len(tasks) > 0 {
			continue
		}
		if closed {
			return
		}
		<-r.wake
	}
}

// call runs req off the worker and queues cont with the result. Worker only.
func (r *Reporter) call(req graph.Request, cont func(map[string]any, error)) {
	r.inflight++
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, requestTimeout)
		defer cancel()
		res, err := r.transport.Do(ctx, req)
		r.dispatch(func() {
			r.inflight--
			cont(res, err)
		})
	}()
}

// Flush returns once every task queued before it has run and no network
// call started by them is still outstanding.
func (r *Reporter) Flush(ctx context.Context) error {
	for {
		idle := make(chan bool, 1)
		if !r.dispatch(func() { idle <- r.inflight == 0 }) {
			return ErrClosed
		}
		select {
		case ok := <-idle:
			if ok {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-time.After(flushPoll):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
