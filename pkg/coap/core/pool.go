package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// CoapConcurrentTransactions is the default congestion window:
// at most this many transactions may be in flight at once.
const CoapConcurrentTransactions = 50

// TransactionPool tracks every active Transaction plus the
// finished/failed bookkeeping sets needed to make ACK handling
// idempotent and overall transfers observable.
//
// The source's handle_congestions spins on a plain while loop polling
// len(transaction_dict); here the window is a real
// golang.org/x/sync/semaphore.Weighted (one unit per active
// transaction) and full-drain waits block on a sync.Cond, so a caller
// parked in Admit consumes no CPU between wakeups.
type TransactionPool struct {
	log types.Logger

	mu       sync.Mutex
	drained  *sync.Cond
	settled  *sync.Cond
	active   map[types.WorkID]*Transaction
	finished map[types.WorkID]time.Time

	overallFailed   map[types.GeneralWorkID]time.Time
	overallFinished map[types.GeneralWorkID]time.Time
	retransmits     map[types.GeneralWorkID]int

	sem     *semaphore.Weighted
	metrics *Metrics
	cfg     Config
}

// NewTransactionPool creates an empty pool whose congestion window and
// per-transaction retransmission budget come from cfg.
func NewTransactionPool(log types.Logger, metrics *Metrics, cfg Config) *TransactionPool {
	p := &TransactionPool{
		log:             log,
		active:          map[types.WorkID]*Transaction{},
		finished:        map[types.WorkID]time.Time{},
		overallFailed:   map[types.GeneralWorkID]time.Time{},
		overallFinished: map[types.GeneralWorkID]time.Time{},
		retransmits:     map[types.GeneralWorkID]int{},
		sem:             semaphore.NewWeighted(cfg.ConcurrentTransactions),
		metrics:         metrics,
		cfg:             cfg,
	}
	p.drained = sync.NewCond(&p.mu)
	p.settled = sync.NewCond(&p.mu)
	return p
}

// Add sends msg once and, unless an ACK for it has already been
// observed, installs it as an active transaction. The finished-set
// check closes the race where an ACK arrives between the initial send
// and this call; it is checked both before and after acquiring the
// congestion-window permit so a zombie transaction never holds one.
func (p *TransactionPool) Add(msg types.Message, parentMessageID uint16) error {
	if err := sendMessage(msg); err != nil {
		return err
	}

	key := msg.WorkIDOf()

	p.mu.Lock()
	_, done := p.finished[key]
	p.mu.Unlock()
	if done {
		return nil
	}

	if err := p.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, done := p.finished[key]; done {
		p.sem.Release(1)
		return nil
	}
	p.active[key] = NewTransaction(msg, parentMessageID, p.cfg)
	if p.metrics != nil {
		p.metrics.ActiveTransactions.Set(float64(len(p.active)))
	}
	return nil
}

// Admit is the admission-control gate for the block-wise splitter
// (the original's handle_congestions): it blocks until there is room
// in the congestion window, additionally waiting for full drain when
// isLast is true, unless the overall transfer has already failed.
//
// The window check acquires-then-releases a semaphore permit rather
// than holding one: the permit that actually reserves the slot for
// the caller's message is taken inside the subsequent Add call, same
// as the source's two-step handle_congestions-then-add sequence.
func (p *TransactionPool) Admit(ctx context.Context, msg types.Message, isLast bool) (failed bool, err error) {
	if p.IsOverallFailed(msg) {
		return true, nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	p.sem.Release(1)

	if isLast {
		if err := p.waitDrained(ctx); err != nil {
			return false, err
		}
	}
	return false, nil
}

// waitDrained blocks until no transaction is active, or ctx is cancelled.
func (p *TransactionPool) waitDrained(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.drained.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.active) != 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.drained.Wait()
	}
	return nil
}

// StepAll advances every active transaction one tick:
// on Failed, the whole general-work-id's transactions are purged
// without further retransmission attempts.
func (p *TransactionPool) StepAll() {
	p.mu.Lock()
	keys := make([]types.WorkID, 0, len(p.active))
	for k := range p.active {
		keys = append(keys, k)
	}
	p.mu.Unlock()

	for _, key := range keys {
		p.mu.Lock()
		tx, ok := p.active[key]
		p.mu.Unlock()
		if !ok {
			continue
		}

		switch tx.Step(p.log) {
		case Failed:
			p.mu.Lock()
			general := tx.Request.GeneralWorkIDOf()
			p.overallFailed[general] = time.Now()
			p.purgeGeneral(general)
			p.settled.Broadcast()
			p.mu.Unlock()
		case Retransmitted:
			p.mu.Lock()
			general := tx.Request.GeneralWorkIDOf()
			p.retransmits[general]++
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.Retransmissions.Inc()
			}
		}
	}
}

// purgeGeneral removes every active transaction sharing general from
// the pool, releasing its congestion-window permit. Caller must hold p.mu.
func (p *TransactionPool) purgeGeneral(general types.GeneralWorkID) {
	for key, tx := range p.active {
		if tx.Request.GeneralWorkIDOf() == general {
			delete(p.active, key)
			p.sem.Release(1)
		}
	}
	if len(p.active) == 0 {
		p.drained.Broadcast()
	}
}

// Finish records msg's ACK, removes its transaction and releases its
// congestion-window permit.
func (p *TransactionPool) Finish(msg types.Message) {
	key := msg.WorkIDOf()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished[key] = time.Now()
	if _, ok := p.active[key]; ok {
		delete(p.active, key)
		p.sem.Release(1)
	}
	if p.metrics != nil {
		p.metrics.ActiveTransactions.Set(float64(len(p.active)))
	}
	if len(p.active) == 0 {
		p.drained.Broadcast()
	}
}

// FinishOverall marks the overall transfer identified by msg as complete.
func (p *TransactionPool) FinishOverall(msg types.Message) {
	general := msg.GeneralWorkIDOf()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, done := p.overallFinished[general]; !done {
		p.overallFinished[general] = time.Now()
	}
	p.settled.Broadcast()
}

// WaitOverall blocks the calling goroutine until the overall transfer
// identified by msg has finished, or ctx is cancelled.
func (p *TransactionPool) WaitOverall(ctx context.Context, msg types.Message) error {
	general := msg.GeneralWorkIDOf()

	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.settled.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if _, done := p.overallFinished[general]; done {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.settled.Wait()
	}
}

// IsOverallFailed reports whether msg's logical transfer has already failed.
func (p *TransactionPool) IsOverallFailed(msg types.Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, failed := p.overallFailed[msg.GeneralWorkIDOf()]
	return failed
}

// RetransmitCount reports how many retransmissions msg's overall
// transfer has accumulated.
func (p *TransactionPool) RetransmitCount(msg types.Message) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retransmits[msg.GeneralWorkIDOf()]
}

// ActiveCount reports the number of currently active transactions.
func (p *TransactionPool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// MarkRST records an inbound RST: the overall transfer is marked both
// failed and finished so waiting callers unblock.
func (p *TransactionPool) MarkRST(msg types.Message) {
	general := msg.GeneralWorkIDOf()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overallFailed[general] = time.Now()
	if _, done := p.overallFinished[general]; !done {
		p.overallFinished[general] = time.Now()
	}
	p.purgeGeneral(general)
	p.settled.Broadcast()
}
