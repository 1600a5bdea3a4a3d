package signaling

import (
	"context"
	"errors"
	"sync"
)

var ErrDispatcherClosed = errors.New("signaling dispatcher closed")

const DefaultInboundQueueSize = 1024

type event struct {
	ctx  context.Context
	peer Peer
	data []byte

	// evicted is non-nil for disconnect events and is closed once the
	// eviction has run.
	evicted chan struct{}
}

// Hub owns the only goroutine that touches the Router. Readers submit frames
// in arrival order, so each connection's messages are handled FIFO.
type Hub struct {
	router  *Router
	inbound chan event

	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func NewHub(router *Router, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultInboundQueueSize
	}
	h := &Hub{
		router:  router,
		inbound: make(chan event, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.done:
			return
		case ev := <-h.inbound:
			if ev.evicted != nil {
				h.router.Evict(ev.ctx, ev.peer)
				close(ev.evicted)
				continue
			}
			h.router.Dispatch(ev.ctx, ev.peer, ev.data)
		}
	}
}

// Submit queues a frame from p for routing. It blocks while the inbound
// queue is full.
func (h *Hub) Submit(ctx context.Context, p Peer, data []byte) error {
	select {
	case <-h.done:
		return ErrDispatcherClosed
	default:
	}
	select {
	case h.inbound <- event{ctx: ctx, peer: p, data: data}:
		return nil
	case <-h.done:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect evicts p from every room and returns once the eviction, and
// every frame p submitted before it, has been processed.
func (h *Hub) Disconnect(ctx context.Context, p Peer) error {
	ev := event{ctx: context.WithoutCancel(ctx), peer: p, evicted: make(chan struct{})}
	select {
	case h.inbound <- ev:
	case <-h.done:
		return ErrDispatcherClosed
	}
	select {
	case <-ev.evicted:
		return nil
	case <-h.done:
		return ErrDispatcherClosed
	}
}

// Close stops the dispatcher. Pending events are discarded.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
	<-h.stopped
}
