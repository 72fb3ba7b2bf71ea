package core

import (
	"time"

	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// Default retransmission parameters (§6). A Transaction is built from
// a Config rather than these directly; DefaultConfig seeds its fields
// with these values, and cmd/ may override them from a YAML file or
// .env before constructing the Endpoint.
const (
	AckTimeout      = 2 * time.Second
	AckRandomFactor = 1.5
	MaxRetransmit   = 4
)

// StepResult is the outcome of one Transaction.Step call.
type StepResult int

const (
	NoAction StepResult = iota
	Retransmitted
	Failed
)

// Transaction owns one in-flight CON message, its retransmission
// timeout and retry bookkeeping.
type Transaction struct {
	Request         types.Message
	ParentMessageID uint16

	maxRetransmit         int
	maxRetransmissionSpan time.Duration

	timer        *Timer
	rto          time.Duration
	elapsedTotal time.Duration
	retryCount   int
}

// NewTransaction starts a transaction for a just-sent CON message,
// taking its RTO and retry budget from cfg.
func NewTransaction(request types.Message, parentMessageID uint16, cfg Config) *Transaction {
	return &Transaction{
		Request:               request,
		ParentMessageID:       parentMessageID,
		maxRetransmit:         cfg.MaxRetransmit,
		maxRetransmissionSpan: cfg.MaxRetransmissionSpan(),
		timer:                 NewTimer(),
		rto:                   cfg.AckTimeout,
	}
}

// Step runs one iteration of the retransmission state machine: if the
// RTO has elapsed, either resend the original message or, once the
// retry/time budget is exhausted, emit a FAILED_REQUEST RST and
// report Failed.
func (t *Transaction) Step(log types.Logger) StepResult {
	elapsed := time.Duration(t.timer.Elapsed() * float64(time.Second))
	if elapsed <= t.rto {
		return NoAction
	}

	t.elapsedTotal += elapsed
	t.rto *= 2
	t.retryCount++
	t.timer.Reset()

	if t.elapsedTotal > t.maxRetransmissionSpan || t.retryCount > t.maxRetransmit {
		reset := TemplateFailedRequest.With(t.Request.Token, t.ParentMessageID, t.Request.Peer, t.Request.Transport)
		if err := sendMessage(reset); err != nil {
			log.Errorf("transaction %s: failed sending RST: %v", t.Request.WorkIDOf(), err)
		}
		log.Warnf("transaction failed: %s", t.Request)
		return Failed
	}

	if err := sendMessage(t.Request); err != nil {
		log.Errorf("transaction %s: retransmit failed: %v", t.Request.WorkIDOf(), err)
	}
	log.Debugf("retransmission of %s (retry %d)", t.Request, t.retryCount)
	return Retransmitted
}

// RetryCount reports how many retransmissions this transaction has performed so far.
func (t *Transaction) RetryCount() int {
	return t.retryCount
}
