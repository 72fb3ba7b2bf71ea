package blockwise

import (
	"sync"

	"github.com/dtudor/coap-share-drive/pkg/coap/core"
	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// Sink receives block payloads for one general-work-id in strictly
// increasing NUM order and owns whatever persistence that implies —
// typically a file on disk, but tests may supply an in-memory sink.
type Sink interface {
	// Reset discards any previous contents. Called once, before the
	// first block of a fresh transfer is appended, matching the
	// assembler's "if the destination file exists, delete it" step.
	Reset() error
	// Append writes the payload for the next in-order block.
	Append(payload []byte) error
	// Finalize runs once every block has been appended in order;
	// a sink writing a completed .zip artefact unpacks it here.
	Finalize() error
}

// SinkFactory builds the Sink that will receive the blocks of the
// transfer first carries by msg (its general-work-id, Location-Path
// and URI-Path together determine the destination).
type SinkFactory func(first types.Message) (Sink, error)

// transfer is the per-general-work-id bookkeeping the source calls
// BlockAssembler state: how far writing has progressed, how many
// blocks this transfer holds once known, and any blocks that arrived
// out of order and are waiting to be drained.
type transfer struct {
	sink           Sink
	writeIndex     int
	totalResponses int
	haveTotal      bool
	received       map[int][]byte
}

// Assembler reassembles block-wise transfers in write order regardless
// of arrival order. It is process-wide: one Assembler synchronises all
// the workers of one Endpoint, guarded by a single mutex (§5 — no two
// of the pool/dedup/assembler locks are ever held together).
type Assembler struct {
	pool    *core.TransactionPool
	newSink SinkFactory
	log     types.Logger

	mu        sync.Mutex
	transfers map[types.GeneralWorkID]*transfer
}

// NewAssembler builds an Assembler that finishes overall transfers
// through pool and manufactures destinations via newSink.
func NewAssembler(pool *core.TransactionPool, newSink SinkFactory, log types.Logger) *Assembler {
	return &Assembler{
		pool:      pool,
		newSink:   newSink,
		log:       log,
		transfers: map[types.GeneralWorkID]*transfer{},
	}
}

// Accept processes one inbound block of msg's transfer, appending it
// to the destination the moment it (and any blocks already buffered
// immediately after it) can be written in order. It is the Go
// counterpart of the source's on_coap_message_arrive.
func (a *Assembler) Accept(msg types.Message) error {
	block, _, ok := msg.BlockOption()
	if !ok {
		return types.ErrUnrecognisedOption
	}

	general := msg.GeneralWorkIDOf()

	a.mu.Lock()
	t, exists := a.transfers[general]
	if !exists {
		sink, err := a.newSink(msg)
		if err != nil {
			a.mu.Unlock()
			return err
		}
		if err := sink.Reset(); err != nil {
			a.mu.Unlock()
			return err
		}
		t = &transfer{sink: sink, received: map[int][]byte{}}
		a.transfers[general] = t
	}

	if !block.More {
		t.haveTotal = true
		t.totalResponses = block.Num
	}

	var writeErr error
	if block.Num == t.writeIndex {
		writeErr = t.sink.Append(msg.Payload)
		if writeErr == nil {
			t.writeIndex++
			for {
				buffered, bufferedOK := t.received[t.writeIndex]
				if !bufferedOK {
					break
				}
				if err := t.sink.Append(buffered); err != nil {
					writeErr = err
					break
				}
				delete(t.received, t.writeIndex)
				t.writeIndex++
			}
		}
	} else {
		t.received[block.Num] = append([]byte(nil), msg.Payload...)
	}

	complete := writeErr == nil && t.haveTotal && t.writeIndex-1 == t.totalResponses
	if complete {
		delete(a.transfers, general)
	}
	a.mu.Unlock()

	if writeErr != nil {
		a.log.Errorf("assembler: write failed for %s: %v", general, writeErr)
		return writeErr
	}

	if complete {
		if err := t.sink.Finalize(); err != nil {
			a.log.Errorf("assembler: finalize failed for %s: %v", general, err)
			return err
		}
		a.pool.FinishOverall(msg)
	}
	return nil
}

// Abandon drops any in-progress transfer for msg's general-work-id
// without finalising it, used when an RST arrives mid-transfer.
func (a *Assembler) Abandon(msg types.Message) {
	a.mu.Lock()
	delete(a.transfers, msg.GeneralWorkIDOf())
	a.mu.Unlock()
}
