package blockwise

import (
	"bytes"
	"math/rand"
	"net/netip"
	"sync"
	"testing"

	"github.com/dtudor/coap-share-drive/pkg/coap/core"
	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

type nopLog struct{}

func (nopLog) Debugf(string, ...interface{}) {}
func (nopLog) Infof(string, ...interface{})  {}
func (nopLog) Warnf(string, ...interface{})  {}
func (nopLog) Errorf(string, ...interface{}) {}

// memSink is an in-memory blockwise.Sink used to verify the
// assembler's write-order invariant without touching a filesystem.
type memSink struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	resets    int
	finalized bool
	snapshots [][]byte
}

func (s *memSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
	s.resets++
	return nil
}

func (s *memSink) Append(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(payload)
	snap := append([]byte(nil), s.buf.Bytes()...)
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *memSink) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = true
	return nil
}

func (s *memSink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func peer() types.Peer {
	return types.Peer{Addr: netip.MustParseAddrPort("127.0.0.1:5683")}
}

func blockMessage(token string, num int, more bool, payload []byte) types.Message {
	return types.Message{
		Version: 1, Type: types.CON, Code: types.Content,
		MessageID: uint16(num + 1),
		Token:     types.Token(token),
		Options: map[int]interface{}{
			types.OptionBlock2: types.EncodeBlockValue(num, more, 2),
		},
		Payload: payload,
		Peer:    peer(),
	}
}

func TestAssembler_InOrderArrival(t *testing.T) {
	sink := &memSink{}
	pool := core.NewTransactionPool(nopLog{}, nil, core.DefaultConfig())
	asm := NewAssembler(pool, func(types.Message) (Sink, error) { return sink, nil }, nopLog{})

	blocks := [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cccc")}
	for i, b := range blocks {
		msg := blockMessage("tok", i, i != len(blocks)-1, b)
		if err := asm.Accept(msg); err != nil {
			t.Fatalf("accept block %d: %v", i, err)
		}
	}

	want := bytes.Join(blocks, nil)
	if !bytes.Equal(sink.bytes(), want) {
		t.Fatalf("got %q want %q", sink.bytes(), want)
	}
	if !sink.finalized {
		t.Fatalf("expected sink finalized once last block lands")
	}
}

func TestAssembler_OutOfOrderArrival(t *testing.T) {
	sink := &memSink{}
	pool := core.NewTransactionPool(nopLog{}, nil, core.DefaultConfig())
	asm := NewAssembler(pool, func(types.Message) (Sink, error) { return sink, nil }, nopLog{})

	blocks := [][]byte{[]byte("0000"), []byte("1111"), []byte("2222"), []byte("3333")}
	order := []int{0, 2, 1, 3}
	for _, i := range order {
		msg := blockMessage("tok2", i, i != len(blocks)-1, blocks[i])
		if err := asm.Accept(msg); err != nil {
			t.Fatalf("accept block %d: %v", i, err)
		}
	}

	want := bytes.Join(blocks, nil)
	if !bytes.Equal(sink.bytes(), want) {
		t.Fatalf("got %q want %q", sink.bytes(), want)
	}
}

// TestAssembler_WriteOrderInvariant checks the assembler's core
// invariant for one random permutation of arrival order: at no
// intermediate point do the written bytes contain block k+1 before
// block k, i.e. every snapshot taken after an Append is a valid
// prefix of the final result.
func TestAssembler_WriteOrderInvariant(t *testing.T) {
	sink := &memSink{}
	pool := core.NewTransactionPool(nopLog{}, nil, core.DefaultConfig())
	asm := NewAssembler(pool, func(types.Message) (Sink, error) { return sink, nil }, nopLog{})

	const n = 8
	blocks := make([][]byte, n)
	for i := range blocks {
		blocks[i] = []byte{byte('A' + i), byte('A' + i), byte('A' + i)}
	}
	final := bytes.Join(blocks, nil)

	order := rand.Perm(n)
	for _, i := range order {
		msg := blockMessage("tok3", i, i != n-1, blocks[i])
		if err := asm.Accept(msg); err != nil {
			t.Fatalf("accept block %d: %v", i, err)
		}
	}

	for _, snap := range sink.snapshots {
		if !bytes.Equal(snap, final[:len(snap)]) {
			t.Fatalf("intermediate write %q is not a prefix of final %q", snap, final)
		}
	}
	if !bytes.Equal(sink.bytes(), final) {
		t.Fatalf("final bytes %q != expected %q", sink.bytes(), final)
	}
}

func TestAssembler_ResetsOncePerTransfer(t *testing.T) {
	sink := &memSink{}
	pool := core.NewTransactionPool(nopLog{}, nil, core.DefaultConfig())
	asm := NewAssembler(pool, func(types.Message) (Sink, error) { return sink, nil }, nopLog{})

	_ = asm.Accept(blockMessage("tok4", 0, true, []byte("x")))
	_ = asm.Accept(blockMessage("tok4", 0, true, []byte("y")))

	if sink.resets != 1 {
		t.Fatalf("expected exactly one Reset for a single general-work-id, got %d", sink.resets)
	}
}
