package runtime

import (
	"sync"

	"go.uber.org/zap"
)

// progressEmitter delivers progress events to a callback from its own
// goroutine, in emit order, without ever blocking the emitter side.
type progressEmitter struct {
	fn     ProgressFunc
	logger *zap.Logger

	mu     sync.Mutex
	queue  []Progress
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newProgressEmitter(fn ProgressFunc, logger *zap.Logger) *progressEmitter {
	e := &progressEmitter{
		fn:     fn,
		logger: logger,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if fn == nil {
		close(e.done)
		return e
	}
	go e.loop()
	return e
}

func (e *progressEmitter) Emit(p Progress) {
	if e.fn == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, p)
	e.mu.Unlock()
	e.wake()
}

func (e *progressEmitter) wake() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// Close stops accepting events and waits until every queued event was delivered.
func (e *progressEmitter) Close() {
	if e.fn == nil {
		return
	}
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wake()
	<-e.done
}

func (e *progressEmitter) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.mu.Unlock()
			<-e.signal
			e.mu.Lock()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		batch := e.queue
		e.queue = nil
		e.mu.Unlock()
		for _, p := range batch {
			e.deliver(p)
		}
	}
}

func (e *progressEmitter) deliver(p Progress) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("progress callback panicked", zap.Any("panic", r), zap.String("status", string(p.Status)))
		}
	}()
	e.fn(p)
}

// Run is a request started with Dispatcher.Stream.
type Run struct {
	events chan Progress
	done   chan struct{}
	resp   Response
	err    error
}

// Events yields the request's progress in order and is closed once the
// request has finished.
func (r *Run) Events() <-chan Progress { return r.events }

// Wait blocks until the request finishes. Events not yet received are discarded.
func (r *Run) Wait() (Response, error) {
	for range r.events {
	}
	<-r.done
	return r.resp, r.err
}
