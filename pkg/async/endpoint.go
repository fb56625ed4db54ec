package async

import "sync"

// request is what a matched server receives: the client's request plus
// the slot it expects the response to land in.
type request[Req, Resp any] struct {
	req      Req
	response *AsyncOnce[Resp]
}

type waiter[Req, Resp any] struct {
	server *AsyncOnce[request[Req, Resp]] // non-nil for a server waiter
	client *request[Req, Resp]            // non-nil for a client waiter
}

// Endpoint is a rendezvous point between servers and clients: whichever
// side arrives second immediately matches the side that arrived first.
// All queue mutations hold the endpoint's own mutex; the Futures
// returned by WaitForRequest/WaitForResponse release it before awaiting
// anything, per spec.md §4.7.
type Endpoint[Req, Resp any] struct {
	mu    sync.Mutex
	queue []waiter[Req, Resp]
}

// NewEndpoint returns an empty rendezvous endpoint.
func NewEndpoint[Req, Resp any]() *Endpoint[Req, Resp] {
	return &Endpoint[Req, Resp]{}
}

// ServerRequest is what WaitForRequest resolves to: the matched request
// plus the slot the server must fill with its response.
type ServerRequest[Req, Resp any] struct {
	Req      Req
	Response *AsyncOnce[Resp]
}

// WaitForRequest matches against a queued client if one is waiting,
// otherwise enqueues a server waiter and returns a Future that resolves
// once a client arrives.
func (e *Endpoint[Req, Resp]) WaitForRequest() Future[ServerRequest[Req, Resp]] {
	e.mu.Lock()
	if len(e.queue) > 0 && e.queue[0].client != nil {
		c := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		return readyFuture[ServerRequest[Req, Resp]]{
			value: ServerRequest[Req, Resp]{Req: c.client.req, Response: c.client.response},
		}
	}

	slot := NewAsyncOnce[request[Req, Resp]]()
	e.queue = append(e.queue, waiter[Req, Resp]{server: slot})
	e.mu.Unlock()

	return mapFuture[request[Req, Resp], ServerRequest[Req, Resp]]{
		inner: slot.Await(),
		fn: func(r request[Req, Resp]) ServerRequest[Req, Resp] {
			return ServerRequest[Req, Resp]{Req: r.req, Response: r.response}
		},
	}
}

// WaitForResponse matches against a queued server if one is waiting,
// handing it req and a fresh response slot; otherwise enqueues a client
// waiter and returns a Future that resolves once a server replies.
func (e *Endpoint[Req, Resp]) WaitForResponse(req Req) Future[Resp] {
	response := NewAsyncOnce[Resp]()

	e.mu.Lock()
	if len(e.queue) > 0 && e.queue[0].server != nil {
		s := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		s.server.TrySetResult(request[Req, Resp]{req: req, response: response})
		return response.Await()
	}

	e.queue = append(e.queue, waiter[Req, Resp]{client: &request[Req, Resp]{req: req, response: response}})
	e.mu.Unlock()

	return response.Await()
}

// readyFuture is an already-resolved Future, used when WaitForRequest
// matches a queued client synchronously.
type readyFuture[T any] struct{ value T }

func (r readyFuture[T]) Poll(Waker) (T, Poll) { return r.value, Ready }

// mapFuture adapts an inner Future's value with fn once it resolves.
type mapFuture[A, B any] struct {
	inner Future[A]
	fn    func(A) B
}

func (m mapFuture[A, B]) Poll(w Waker) (B, Poll) {
	v, p := m.inner.Poll(w)
	if p != Ready {
		var zero B
		return zero, Pending
	}
	return m.fn(v), Ready
}
