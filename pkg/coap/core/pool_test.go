package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

func TestPool_FinishBeforeAddPreventsZombie(t *testing.T) {
	pool := NewTransactionPool(nopLog{}, nil, DefaultConfig())
	req := testRequest(&recordingTransport{})

	// The ACK arrives (Finish) before Add races it into the active set.
	pool.Finish(req)
	if err := pool.Add(req, 0); err != nil {
		t.Fatalf("add: %v", err)
	}
	if pool.ActiveCount() != 0 {
		t.Fatalf("expected Add to no-op after Finish, got %d active", pool.ActiveCount())
	}
}

func TestPool_AdmitBlocksUntilWindowHasRoom(t *testing.T) {
	defer goleak.VerifyNone(t)
	pool := NewTransactionPool(nopLog{}, nil, DefaultConfig())

	// Fill the congestion window with real active transactions (each
	// Add call acquires a permit on the pool's semaphore) so this
	// actually proves Admit tracks live occupancy, not a side counter.
	fillers := make([]types.Message, CoapConcurrentTransactions)
	for i := range fillers {
		msg := testRequest(&recordingTransport{})
		msg.MessageID = uint16(i + 100)
		fillers[i] = msg
		if err := pool.Add(msg, 0); err != nil {
			t.Fatalf("add filler %d: %v", i, err)
		}
	}
	if got := pool.ActiveCount(); got != CoapConcurrentTransactions {
		t.Fatalf("expected %d active transactions, got %d", CoapConcurrentTransactions, got)
	}

	req := testRequest(&recordingTransport{})
	req.MessageID = 9999

	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		failed, err := pool.Admit(ctx, req, false)
		if err != nil || failed {
			t.Errorf("Admit returned failed=%v err=%v", failed, err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Admit returned before the congestion window had room")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Finish(fillers[0])

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Admit did not unblock after the window freed up")
	}
}

func TestPool_AdmitFailsWhenOverallAlreadyFailed(t *testing.T) {
	pool := NewTransactionPool(nopLog{}, nil, DefaultConfig())
	req := testRequest(&recordingTransport{})
	pool.MarkRST(req)

	failed, err := pool.Admit(context.Background(), req, false)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !failed {
		t.Fatalf("expected Admit to report failed after MarkRST")
	}
}

func TestPool_AdmitLastWaitsForDrain(t *testing.T) {
	defer goleak.VerifyNone(t)
	pool := NewTransactionPool(nopLog{}, nil, DefaultConfig())
	first := testRequest(&recordingTransport{})
	if err := pool.Add(first, 0); err != nil {
		t.Fatalf("add: %v", err)
	}

	second := testRequest(&recordingTransport{})
	second.MessageID = 2

	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := pool.Admit(ctx, second, true); err != nil {
			t.Errorf("admit: %v", err)
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Admit(isLast=true) returned before the pool drained")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Finish(first)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Admit(isLast=true) never unblocked after drain")
	}
	wg.Wait()
}

func TestPool_StepAllPurgesGeneralOnFailure(t *testing.T) {
	pool := NewTransactionPool(nopLog{}, nil, DefaultConfig())
	req1 := testRequest(&recordingTransport{})
	req2 := testRequest(&recordingTransport{})
	req2.MessageID = 2

	if err := pool.Add(req1, 0); err != nil {
		t.Fatalf("add req1: %v", err)
	}
	if err := pool.Add(req2, 0); err != nil {
		t.Fatalf("add req2: %v", err)
	}

	pool.mu.Lock()
	for _, tx := range pool.active {
		tx.rto = time.Millisecond
		tx.retryCount = MaxRetransmit
	}
	pool.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	pool.StepAll()

	if pool.ActiveCount() != 0 {
		t.Fatalf("expected both transactions purged after failure, got %d active", pool.ActiveCount())
	}
	if !pool.IsOverallFailed(req1) {
		t.Fatalf("expected general-work-id marked overall failed")
	}
}
