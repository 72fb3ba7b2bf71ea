// Package blockwise implements the Block1/Block2 splitting and
// reassembly logic share-drive uses to move files larger than one
// datagram across a sequence of CoAP exchanges (RFC 7959).
package blockwise

import (
	"context"
	"os"

	"github.com/dtudor/coap-share-drive/pkg/coap/core"
	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// Splitter emits a CONTENT response per block of a payload, admitting
// each one through the transaction pool's congestion window before
// sending, then finishing the overall transfer once every block has
// been accepted.
type Splitter struct {
	pool *core.TransactionPool
	log  types.Logger
	cfg  core.Config
}

// NewSplitter builds a Splitter driven by pool's admission control;
// cfg.DefaultBlockSZX governs the block size used when a request
// carries no Block option of its own.
func NewSplitter(pool *core.TransactionPool, log types.Logger, cfg core.Config) *Splitter {
	return &Splitter{pool: pool, log: log, cfg: cfg}
}

// SendBytes splits data into blocks sized by the Block option carried
// on request and streams them back as CONTENT responses, stamping
// every response with locationPath and the first one with the total
// block count.
func (s *Splitter) SendBytes(ctx context.Context, request types.Message, data []byte, locationPath string) error {
	blockOpt, optionNumber, ok := request.BlockOption()
	if !ok {
		blockOpt = types.BlockValue{SZX: s.cfg.DefaultBlockSZX}
		optionNumber = types.OptionBlock2
	}
	blockSize := types.BlockSize(blockOpt.SZX)
	total := totalBlocks(len(data), blockSize)

	timer := core.NewTimer()
	for index := 0; index < total; index++ {
		isLast := index == total-1
		start := index * blockSize
		end := start + blockSize
		if end > len(data) {
			end = len(data)
		}

		response := core.TemplateContentResponse.With(request.Token, request.MessageID+uint16(index)+1, request.Peer, request.Transport)
		response.Payload = data[start:end]
		response.Options[types.OptionLocationPath] = locationPath
		response.Options[optionNumber] = types.EncodeBlockValue(index, !isLast, blockOpt.SZX)
		if index == 0 {
			response.Options[request.SizeOptionFor(optionNumber)] = total
		}

		failed, err := s.pool.Admit(ctx, response, isLast)
		if err != nil {
			return err
		}
		if failed {
			s.log.Warnf("blockwise: send of %s abandoned, overall transaction failed", request.Token)
			return nil
		}
		if err := s.pool.Add(response, request.MessageID); err != nil {
			return err
		}
	}

	retransmissions := s.pool.RetransmitCount(request)
	s.log.Infof("blockwise: upload of %s finished in %.3fs with %d retransmissions",
		locationPath, timer.Elapsed(), retransmissions)

	s.pool.FinishOverall(request)
	return nil
}

// SendFile reads the file at path and streams its bytes via SendBytes.
// It does not zip directories: callers sending a directory zip it
// first and pass the archive's path.
func (s *Splitter) SendFile(ctx context.Context, request types.Message, path, locationPath string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.SendBytes(ctx, request, data, locationPath)
}

// SendPaths streams a directory listing back as a sequence of
// single-entry responses, one per path, matching split_on_paths_and_send.
func (s *Splitter) SendPaths(ctx context.Context, request types.Message, paths []string) error {
	total := len(paths)
	for index, p := range paths {
		isLast := index == total-1
		response := core.TemplatePathResponse.With(request.Token, request.MessageID+uint16(index)+1, request.Peer, request.Transport)
		response.Payload = []byte(p)
		response.Options[types.OptionBlock2] = types.EncodeBlockValue(index, !isLast, s.cfg.DefaultBlockSZX)

		failed, err := s.pool.Admit(ctx, response, isLast)
		if err != nil {
			return err
		}
		if failed {
			return nil
		}
		if err := s.pool.Add(response, request.MessageID); err != nil {
			return err
		}
	}
	s.pool.FinishOverall(request)
	return nil
}

func totalBlocks(size, blockSize int) int {
	if size == 0 {
		return 1
	}
	return (size + blockSize - 1) / blockSize
}
