package async

import (
	"testing"

	"gotest.tools/v3/assert"
)

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

func TestMutexWakesWaiterOnUnlock(t *testing.T) {
	m := NewMutex(0)
	w1 := &countingWaker{}

	f1 := m.Lock()
	g1, p := f1.Poll(w1)
	assert.Equal(t, p, Ready)

	w2 := &countingWaker{}
	f2 := m.Lock()
	_, p = f2.Poll(w2)
	assert.Equal(t, p, Pending)
	assert.Equal(t, w2.n, 0)

	g1.Unlock()
	assert.Equal(t, w2.n, 1)

	g2, p := f2.Poll(w2)
	assert.Equal(t, p, Ready)
	*g2.Value() = 5
	assert.Equal(t, *g2.Value(), 5)
	g2.Unlock()
}

func TestAsyncOnceFiresOnceAndLateAwaitResolvesImmediately(t *testing.T) {
	o := NewAsyncOnce[string]()
	assert.Assert(t, o.TrySetResult("first"))
	assert.Assert(t, !o.TrySetResult("second"))

	w := &countingWaker{}
	v, p := o.Await().Poll(w)
	assert.Equal(t, p, Ready)
	assert.Equal(t, v, "first")
}

func TestAsyncOnceWakesPendingAwaiters(t *testing.T) {
	o := NewAsyncOnce[int]()
	w := &countingWaker{}
	f := o.Await()
	_, p := f.Poll(w)
	assert.Equal(t, p, Pending)

	o.TrySetResult(42)
	assert.Equal(t, w.n, 1)

	v, p := f.Poll(w)
	assert.Equal(t, p, Ready)
	assert.Equal(t, v, 42)
}

func TestSignalNoMissedWakeupAcrossEarlierWait(t *testing.T) {
	s := NewSignal()
	w := &countingWaker{}
	f := s.Wait()

	s.Broadcast()
	assert.Equal(t, w.n, 0) // f never registered a waker yet

	_, p := f.Poll(w)
	assert.Equal(t, p, Ready) // still resolves: generation already moved past capture
}

func TestSignalWakesRegisteredWaiter(t *testing.T) {
	s := NewSignal()
	w := &countingWaker{}
	f := s.Wait()
	_, p := f.Poll(w)
	assert.Equal(t, p, Pending)

	s.Broadcast()
	assert.Equal(t, w.n, 1)

	_, p = f.Poll(w)
	assert.Equal(t, p, Ready)
}

func TestEndpointClientFirstThenServer(t *testing.T) {
	ep := NewEndpoint[string, int]()
	w := &countingWaker{}

	respFuture := ep.WaitForResponse("ping")
	_, p := respFuture.Poll(w)
	assert.Equal(t, p, Pending)

	reqFuture := ep.WaitForRequest()
	sr, p := reqFuture.Poll(w)
	assert.Equal(t, p, Ready)
	assert.Equal(t, sr.Req, "ping")

	sr.Response.TrySetResult(7)
	v, p := respFuture.Poll(w)
	assert.Equal(t, p, Ready)
	assert.Equal(t, v, 7)
}

func TestEndpointServerFirstThenClient(t *testing.T) {
	ep := NewEndpoint[string, int]()
	w := &countingWaker{}

	reqFuture := ep.WaitForRequest()
	_, p := reqFuture.Poll(w)
	assert.Equal(t, p, Pending)

	respFuture := ep.WaitForResponse("ping")
	sr, p := reqFuture.Poll(w)
	assert.Equal(t, p, Ready)
	assert.Equal(t, sr.Req, "ping")

	sr.Response.TrySetResult(99)
	v, p := respFuture.Poll(w)
	assert.Equal(t, p, Ready)
	assert.Equal(t, v, 99)
}
