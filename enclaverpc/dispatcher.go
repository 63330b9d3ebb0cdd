package enclaverpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ruteri/enclave-trust-core/interfaces"
	"github.com/ruteri/enclave-trust-core/metrics"
)

var (
	// ErrMethodNotFound is returned when no method is reachable under the
	// requested name on the used channel.
	ErrMethodNotFound = errors.New("enclaverpc: method not found")

	// ErrMethodExists is returned when registering a duplicate method name.
	ErrMethodExists = errors.New("enclaverpc: method already registered")
)

// Handler is an RPC method implementation. Request and response payloads are
// opaque encoded bytes; the handler owns their encoding.
type Handler func(ctx context.Context, rc *Context, req []byte) ([]byte, error)

// MethodDescriptor names a method and pins its trust boundary. LocalOnly
// methods are reachable only over the local channel; all other methods are
// reachable only remotely.
type MethodDescriptor struct {
	Name      string
	LocalOnly bool
}

// Method pairs a descriptor with its handler.
type Method struct {
	Descriptor MethodDescriptor
	Handler    Handler
}

// Builder assembles a routing table. Registration is additive; Build
// produces an immutable Dispatcher and the builder must not be reused.
type Builder struct {
	methods     map[string]Method
	initializer ContextInitializer
	log         *slog.Logger
}

// NewBuilder creates an empty dispatcher builder.
func NewBuilder(log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{
		methods: make(map[string]Method),
		log:     log,
	}
}

// AddMethod registers a method. Duplicate names are rejected.
func (b *Builder) AddMethod(desc MethodDescriptor, handler Handler) error {
	if _, ok := b.methods[desc.Name]; ok {
		return fmt.Errorf("%w: %s", ErrMethodExists, desc.Name)
	}
	b.methods[desc.Name] = Method{Descriptor: desc, Handler: handler}
	return nil
}

// SetContextInitializer installs the per-call context producer.
func (b *Builder) SetContextInitializer(init ContextInitializer) {
	b.initializer = init
}

// Build finalizes the routing table.
func (b *Builder) Build() (*Dispatcher, error) {
	if b.initializer == nil {
		return nil, errors.New("enclaverpc: no context initializer configured")
	}

	methods := make(map[string]Method, len(b.methods))
	for name, m := range b.methods {
		methods[name] = m
	}
	return &Dispatcher{
		methods:     methods,
		initializer: b.initializer,
		log:         b.log.With("component", "enclaverpc"),
	}, nil
}

// Dispatcher routes RPC calls to registered methods, enforcing the
// local/remote trust boundary. The routing table is immutable after Build.
type Dispatcher struct {
	methods     map[string]Method
	initializer ContextInitializer
	log         *slog.Logger
}

// DispatchRemote routes a call arriving over the remote enclave session.
// Local-only methods are not reachable here. peerID is the authenticated
// caller identity when the transport established one, nil otherwise.
func (d *Dispatcher) DispatchRemote(ctx context.Context, method string, req []byte, peerID *interfaces.PublicKey) ([]byte, error) {
	return d.dispatch(ctx, method, req, false, peerID)
}

// DispatchLocal routes a call arriving over the local channel. Only
// local-only methods are reachable here.
func (d *Dispatcher) DispatchLocal(ctx context.Context, method string, req []byte) ([]byte, error) {
	return d.dispatch(ctx, method, req, true, nil)
}

// Methods lists the registered method descriptors.
func (d *Dispatcher) Methods() []MethodDescriptor {
	out := make([]MethodDescriptor, 0, len(d.methods))
	for _, m := range d.methods {
		out = append(out, m.Descriptor)
	}
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, method string, req []byte, local bool, peerID *interfaces.PublicKey) ([]byte, error) {
	kind := "remote"
	if local {
		kind = "local"
	}

	m, ok := d.methods[method]
	if !ok || m.Descriptor.LocalOnly != local {
		metrics.RPCCallsTotal.WithLabelValues(method, kind+"_not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}

	rc := d.initializer()
	rc.RequestID = uuid.New()
	rc.Local = local
	if peerID != nil {
		rc.PeerID = peerID
	}

	d.log.Debug("dispatching call", "method", method, "kind", kind, "request_id", rc.RequestID)
	metrics.RPCCallsTotal.WithLabelValues(method, kind).Inc()

	resp, err := m.Handler(ctx, rc, req)
	if err != nil {
		d.log.Debug("call failed", "method", method, "request_id", rc.RequestID, "err", err)
		return nil, err
	}
	return resp, nil
}
