// Package coap assembles the wire codec, transaction machinery and
// worker dispatch in pkg/coap/core into one runnable Endpoint, the
// single collaborator value a server or client constructs and passes
// around explicitly instead of reaching for process-global singletons.
package coap

import (
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dtudor/coap-share-drive/pkg/coap/blockwise"
	"github.com/dtudor/coap-share-drive/pkg/coap/core"
	"github.com/dtudor/coap-share-drive/pkg/coap/types"
)

// Endpoint is one bound UDP socket plus everything needed to serve or
// originate CoAP exchanges on it: the transaction pool, the resource
// registry and dispatcher, and a block-wise assembler for inbound
// transfers. Construct one per listening address; a client that also
// needs to receive responses on its own socket constructs its own
// Endpoint the same way.
type Endpoint struct {
	Transport  *core.UDPTransport
	Pool       *core.TransactionPool
	Registry   *core.ResourceRegistry
	Dispatcher *core.Dispatcher
	Assembler  *blockwise.Assembler
	Metrics    *core.Metrics
	Log        types.Logger
	Cfg        core.Config
}

// NewEndpoint binds addr and wires up an Endpoint ready for Listen.
// fallback serves any URI-Path the registry has no explicit resource
// for (the default-resource role from the source's ResourceManager);
// newSink manufactures the destination for every inbound block-wise
// transfer this endpoint reassembles (a file under the share-drive
// downloads/resources root in production, an in-memory stub in tests).
// cfg supplies every §6 tunable (congestion window, worker queue size,
// idle-eviction period, retransmission budget, default block size) that
// the pool, dispatcher and workers below are built from; reg is where
// the endpoint's Prometheus collectors are registered, so callers that
// want them served from the process's default registry (as promhttp's
// Handler reads it) should pass prometheus.DefaultRegisterer rather
// than nil.
func NewEndpoint(addr *net.UDPAddr, fallback core.Resource, newSink blockwise.SinkFactory, log types.Logger, reg prometheus.Registerer, cfg core.Config) (*Endpoint, error) {
	transport, err := core.NewUDPTransport(addr)
	if err != nil {
		return nil, err
	}

	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := core.NewMetrics(reg)
	pool := core.NewTransactionPool(log, metrics, cfg)
	registry := core.NewResourceRegistry(fallback)
	dispatcher := core.NewDispatcher(transport, registry, pool, log, metrics, cfg)
	assembler := blockwise.NewAssembler(pool, newSink, log)
	dispatcher.AddRSTObserver(assembler)

	return &Endpoint{
		Transport:  transport,
		Pool:       pool,
		Registry:   registry,
		Dispatcher: dispatcher,
		Assembler:  assembler,
		Metrics:    metrics,
		Log:        log,
		Cfg:        cfg,
	}, nil
}

// Register installs resource under name on the endpoint's registry.
func (e *Endpoint) Register(name string, resource core.Resource) {
	e.Registry.Register(name, resource)
}

// Listen blocks serving inbound traffic until Stop is called.
func (e *Endpoint) Listen() error {
	return e.Dispatcher.Listen()
}

// Stop tears the endpoint down: background goroutines, then the socket.
func (e *Endpoint) Stop() {
	e.Dispatcher.Stop()
}
