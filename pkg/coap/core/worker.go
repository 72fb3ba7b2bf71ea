package core

import (
	"sync"
	"sync/atomic"

	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// CoapWorkerQueueSize bounds how many pending messages a single Worker
// will accept before the dispatcher must spawn another.
const CoapWorkerQueueSize = 50

// CoapAllowedWorkerIdle is how long a Worker may sit empty before the
// reaper is allowed to retire it.
const CoapAllowedWorkerIdle = 60

// Worker runs one goroutine draining a bounded task queue, invoking
// the matching Resource handler for every task it pulls off.
type Worker struct {
	tasks chan types.Message
	done  chan struct{}
	wg    sync.WaitGroup
	busy  int32
	timer *Timer
	mu    sync.Mutex
	log   types.Logger
}

// NewWorker starts a Worker bound to registry for resource lookup,
// with a task queue sized to queueSize (Config.WorkerQueueSize).
func NewWorker(registry *ResourceRegistry, sharedWork *sync.Map, log types.Logger, queueSize int) *Worker {
	w := &Worker{
		tasks: make(chan types.Message, queueSize),
		done:  make(chan struct{}),
		timer: NewTimer(),
		log:   log,
	}
	w.wg.Add(1)
	go w.run(registry, sharedWork)
	return w
}

func (w *Worker) run(registry *ResourceRegistry, sharedWork *sync.Map) {
	defer w.wg.Done()
	for {
		select {
		case msg, ok := <-w.tasks:
			if !ok {
				return
			}
			w.mu.Lock()
			w.timer.Reset()
			w.mu.Unlock()

			w.solve(registry, msg)

			sharedWork.Delete(msg.WorkIDOf())
		case <-w.done:
			return
		}
	}
}

// solve finds the resource serving msg's URI-Path and dispatches it,
// marking GET/PUT as heavy work the way the source's heavy_work
// context manager does, so the dispatcher avoids piling more work onto
// a worker mid-transfer.
//
// A panicking handler is recovered here (§7 "Handler exception"): the
// peer gets a 5.00 INTERNAL_SERVER_ERROR instead of a dropped
// exchange, and the panic is logged instead of taking the worker's
// goroutine, and with it the whole process, down.
func (w *Worker) solve(registry *ResourceRegistry, msg types.Message) {
	if !msg.Type.Valid() {
		return
	}

	heavy := msg.Code == types.Get || msg.Code == types.Put
	if heavy {
		atomic.StoreInt32(&w.busy, 1)
		defer atomic.StoreInt32(&w.busy, 0)
	}

	reply, ok := w.dispatch(registry, msg)
	if !ok {
		reply = TemplateInternalError.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
	}
	if reply.Transport == nil {
		return
	}
	if err := sendMessage(reply); err != nil {
		w.log.Errorf("worker: failed sending reply for %s: %v", msg, err)
	}
}

// dispatch invokes the resource handler for msg, recovering any panic
// and reporting it through ok=false so solve can still produce a
// coded error reply for the peer.
func (w *Worker) dispatch(registry *ResourceRegistry, msg types.Message) (reply types.Message, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf("worker: handler for %s panicked: %v", msg, r)
			ok = false
		}
	}()
	resource := registry.Lookup(msg)
	return Dispatch(resource, msg), true
}

// Submit enqueues msg. Returns false, without queueing msg, if the
// queue is already full. The dispatcher does not check the result; it
// only submits to workers chooseWorker found to have room.
func (w *Worker) Submit(msg types.Message) bool {
	select {
	case w.tasks <- msg:
		return true
	default:
		return false
	}
}

// QueueSize reports how many tasks are currently pending.
func (w *Worker) QueueSize() int {
	return len(w.tasks)
}

// IsHeavilyLoaded reports whether the worker is mid-GET/PUT.
func (w *Worker) IsHeavilyLoaded() bool {
	return atomic.LoadInt32(&w.busy) == 1
}

// IdleSeconds reports how long it has been since the worker last
// picked up a task.
func (w *Worker) IdleSeconds() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer.Elapsed()
}

// Stop signals the worker's goroutine to exit and waits for it; tasks
// still queued at that point are not processed.
func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
}
