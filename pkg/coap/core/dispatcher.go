package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dtudor/coap-share-drive/pkg/coap/codec"
	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// RSTObserver is notified when an inbound RST aborts an overall
// transfer, so collaborators keyed by general-work-id (the block-wise
// assembler) can drop their in-progress state without importing core.
type RSTObserver interface {
	Abandon(msg types.Message)
}

// Dispatcher owns one UDP socket and fans inbound datagrams out across
// a small pool of Workers, running the CON/NON/ACK/RST state machine
// the original CoapWorkerPool implements as __coap_format_filter.
type Dispatcher struct {
	transport *UDPTransport
	registry  *ResourceRegistry
	pool      *TransactionPool
	observers []RSTObserver
	log       types.Logger
	metrics   *Metrics
	cfg       Config

	mu         sync.Mutex
	workers    []*Worker
	sharedWork sync.Map // types.WorkID -> time.Time

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher wires a transport, resource registry and transaction
// pool into a ready-to-run Dispatcher. cfg supplies the worker queue
// size and idle-eviction period the dispatcher enforces.
func NewDispatcher(transport *UDPTransport, registry *ResourceRegistry, pool *TransactionPool, log types.Logger, metrics *Metrics, cfg Config) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	return &Dispatcher{
		transport: transport,
		registry:  registry,
		pool:      pool,
		log:       log,
		metrics:   metrics,
		cfg:       cfg,
		group:     group,
		ctx:       gctx,
		cancel:    cancel,
	}
}

// Listen starts the receive loop plus the transaction-driver and
// worker-reaper background goroutines, blocking until Stop is called.
// Socket read errors do not end it: the receive loop skips them and
// keeps reading until Stop cancels it.
func (d *Dispatcher) Listen() error {
	d.group.Go(d.receiveLoop)
	d.group.Go(d.transactionLoop)
	d.group.Go(d.reaperLoop)
	return d.group.Wait()
}

// AddRSTObserver registers observer to be notified of every inbound
// RST, so it can abandon any state keyed by that general-work-id.
func (d *Dispatcher) AddRSTObserver(observer RSTObserver) {
	d.observers = append(d.observers, observer)
}

// Stop cancels all background goroutines and closes the socket.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.transport.Close()
	d.mu.Lock()
	workers := append([]*Worker(nil), d.workers...)
	d.mu.Unlock()
	for _, w := range workers {
		w.Stop()
	}
}

func (d *Dispatcher) receiveLoop() error {
	buf := make([]byte, codec.MaxMessageSize)
	for {
		select {
		case <-d.ctx.Done():
			return nil
		default:
		}

		d.transport.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, peer, err := d.transport.ReadFrom(buf)
		if err != nil {
			if d.ctx.Err() != nil {
				return nil
			}
			continue
		}

		raw := append([]byte(nil), buf[:n]...)
		msg, err := codec.Decode(raw, peer, d.transport)
		if err != nil {
			d.log.Debugf("dispatcher: malformed datagram from %s: %v", peer, err)
			// A datagram too short to even carry a token/message-id, or
			// with an invalid token length (msg.Transport unset), can't
			// be addressed; anything past
			// that point can, mirroring __coap_format_filter's
			// verify_format-failure branch.
			if msg.Transport != nil {
				d.replyInternalError(msg)
			}
			continue
		}
		d.handle(msg)
	}
}

// handle implements the CON/NON/ACK/RST dispatch described by the
// source's __coap_format_filter.
func (d *Dispatcher) handle(msg types.Message) {
	if d.metrics != nil {
		d.metrics.MessagesReceived.WithLabelValues(msg.Type.String()).Inc()
	}

	switch msg.Type {
	case types.CON:
		if d.pool.IsOverallFailed(msg) {
			return
		}
		var ack types.Message
		switch {
		case types.IsMethod(msg.Code):
			ack = TemplateEmptyACK.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
		case msg.Code == types.Content:
			ack = TemplateSuccessContinueACK.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
		default:
			ack = TemplateEmptyACK.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
		}
		if blockOpt, num, ok := msg.BlockOption(); ok {
			_ = blockOpt
			if n, present := msg.Options[num]; present {
				ack.Options[num] = n
			}
		}
		if err := sendMessage(ack); err != nil {
			d.log.Errorf("dispatcher: failed sending ack: %v", err)
		}
		d.submitUnlessDuplicate(msg)

	case types.NON:
		d.submitUnlessDuplicate(msg)

	case types.ACK:
		d.pool.Finish(msg)
		if _, _, hasBlock := msg.BlockOption(); !hasBlock {
			// An ACK carrying no block option is the entire response:
			// no further blocks will follow, so the logical transfer
			// this exchange belongs to is complete too.
			d.pool.FinishOverall(msg)
		}

	case types.RST:
		d.pool.MarkRST(msg)
		for _, observer := range d.observers {
			observer.Abandon(msg)
		}
		d.log.Warnf("dispatcher: received RST %s from %s", msg.Code, msg.Peer)
	}
}

// replyInternalError sends a templated INTERNAL_ERROR for a datagram
// that failed decode validation past the point its token and
// message-id could be recovered, matching the source's
// CoapTemplates.INTERNAL_ERROR reply on a failed verify_format.
func (d *Dispatcher) replyInternalError(msg types.Message) {
	reply := TemplateInternalError.With(msg.Token, msg.MessageID, msg.Peer, msg.Transport)
	if err := sendMessage(reply); err != nil {
		d.log.Errorf("dispatcher: failed sending internal error: %v", err)
	}
}

func (d *Dispatcher) submitUnlessDuplicate(msg types.Message) {
	key := msg.WorkIDOf()
	if _, dup := d.sharedWork.LoadOrStore(key, time.Now()); dup {
		return
	}
	d.chooseWorker().Submit(msg)
}

// chooseWorker prefers an existing, non-busy worker with room in its
// queue; if none qualifies, it spawns a new one, mirroring the
// source's __choose_worker.
func (d *Dispatcher) chooseWorker() *Worker {
	d.mu.Lock()
	defer d.mu.Unlock()

	var chosen *Worker
	for _, w := range d.workers {
		if w.IsHeavilyLoaded() || w.QueueSize() >= d.cfg.WorkerQueueSize {
			continue
		}
		if chosen == nil || w.QueueSize() < chosen.QueueSize() {
			chosen = w
		}
	}
	if chosen != nil {
		return chosen
	}

	w := NewWorker(d.registry, &d.sharedWork, d.log, d.cfg.WorkerQueueSize)
	d.workers = append(d.workers, w)
	if d.metrics != nil {
		d.metrics.WorkerCount.Set(float64(len(d.workers)))
	}
	return w
}

func (d *Dispatcher) transactionLoop() error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return nil
		case <-ticker.C:
			d.pool.StepAll()
		}
	}
}

// reaperLoop retires idle workers, always keeping at least one alive,
// mirroring the source's __handle_workers.
func (d *Dispatcher) reaperLoop() error {
	ticker := time.NewTicker(time.Duration(d.cfg.AllowedWorkerIdleSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return nil
		case <-ticker.C:
			d.reapIdleWorkers()
		}
	}
}

func (d *Dispatcher) reapIdleWorkers() {
	d.mu.Lock()
	defer d.mu.Unlock()

	// remaining shrinks as workers are marked for removal within this
	// same pass, so "keep at least one worker alive" holds across the
	// whole sweep instead of being checked against the pass's starting
	// count on every iteration.
	remaining := len(d.workers)
	allowedIdle := float64(d.cfg.AllowedWorkerIdleSeconds)
	survivors := d.workers[:0:0]
	for _, w := range d.workers {
		if w.IdleSeconds() > allowedIdle && remaining > 1 {
			w.Stop()
			remaining--
			continue
		}
		survivors = append(survivors, w)
	}
	d.workers = survivors
	if d.metrics != nil {
		d.metrics.WorkerCount.Set(float64(len(d.workers)))
	}
}
