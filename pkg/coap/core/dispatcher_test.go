package core

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

type countingResource struct {
	BaseResource
	gets int32
}

func (r *countingResource) HandleGet(msg types.Message) types.Message {
	atomic.AddInt32(&r.gets, 1)
	return types.Message{} // no further reply; the dispatcher already ACKed
}

type countingTransport struct {
	mu   sync.Mutex
	acks int
}

func (t *countingTransport) SendTo(peer types.Peer, raw []byte) error {
	t.mu.Lock()
	t.acks++
	t.mu.Unlock()
	return nil
}

func (t *countingTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acks
}

func newTestDispatcher(resource Resource) *Dispatcher {
	pool := NewTransactionPool(nopLog{}, nil, DefaultConfig())
	registry := NewResourceRegistry(resource)
	return NewDispatcher(nil, registry, pool, nopLog{}, nil, DefaultConfig())
}

// TestDispatcher_AtMostOnceDispatch feeds the same CON packet twice
// and checks exactly two ACKs were emitted (one per datagram) and
// exactly one Worker invocation happened (deduplicated by work-id).
func TestDispatcher_AtMostOnceDispatch(t *testing.T) {
	resource := &countingResource{}
	d := newTestDispatcher(resource)

	transport := &countingTransport{}
	req := types.Message{
		Version: 1, Type: types.CON, Code: types.Get, MessageID: 1,
		Token: types.Token([]byte{0x01}), Options: map[int]interface{}{
			types.OptionURIPath: "share_drive",
		},
		Peer: testPeer(), Transport: transport,
	}

	d.handle(req)
	d.handle(req)

	if got := transport.count(); got != 2 {
		t.Fatalf("expected 2 ACKs for duplicate CON, got %d", got)
	}

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&resource.gets) == 0 {
		select {
		case <-deadline:
			t.Fatalf("worker never invoked the resource")
		case <-time.After(time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond) // let a wrongly-dispatched duplicate land, if any
	if got := atomic.LoadInt32(&resource.gets); got != 1 {
		t.Fatalf("expected exactly one worker invocation, got %d", got)
	}
}

func TestDispatcher_RSTMarksOverallFailedAndNotifiesObservers(t *testing.T) {
	resource := &countingResource{}
	d := newTestDispatcher(resource)

	var abandoned types.GeneralWorkID
	d.AddRSTObserver(rstObserverFunc(func(msg types.Message) {
		abandoned = msg.GeneralWorkIDOf()
	}))

	rst := types.Message{
		Version: 1, Type: types.RST, Code: types.EntityIncomplete, MessageID: 5,
		Token: types.Token([]byte{0x09}), Options: map[int]interface{}{},
		Peer: testPeer(), Transport: &countingTransport{},
	}
	d.handle(rst)

	if !d.pool.IsOverallFailed(rst) {
		t.Fatalf("expected overall_failed to be set after RST")
	}
	if abandoned != rst.GeneralWorkIDOf() {
		t.Fatalf("observer was not notified with the right general-work-id")
	}
}

type rstObserverFunc func(types.Message)

func (f rstObserverFunc) Abandon(msg types.Message) { f(msg) }

// TestDispatcher_ReapIdleWorkersKeepsAtLeastOne feeds the reaper three
// simultaneously-idle workers and checks one survives the same sweep,
// guarding against re-reading the starting len(d.workers) on every
// loop iteration instead of a shrinking running count.
func TestDispatcher_ReapIdleWorkersKeepsAtLeastOne(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := newTestDispatcher(&countingResource{})
	var sharedWork sync.Map

	for i := 0; i < 3; i++ {
		w := NewWorker(NewResourceRegistry(&countingResource{}), &sharedWork, nopLog{}, CoapWorkerQueueSize)
		w.timer.start = w.timer.start.Add(-2 * CoapAllowedWorkerIdle * time.Second)
		d.workers = append(d.workers, w)
	}

	d.reapIdleWorkers()

	if len(d.workers) != 1 {
		t.Fatalf("expected exactly one surviving worker, got %d", len(d.workers))
	}
	d.workers[0].Stop()
}
