package enclaverpc

import (
	"github.com/google/uuid"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// Context carries per-call state handed to RPC method handlers. A fresh
// Context is produced for every dispatched call; handlers must not retain it
// past the call.
type Context struct {
	// RuntimeID is the runtime the dispatcher serves.
	RuntimeID interfaces.Namespace

	// RequestID uniquely identifies the call for logging and tracing.
	RequestID uuid.UUID

	// Local reports whether the call arrived over the local, same-host
	// channel rather than the remote enclave session.
	Local bool

	// PeerID is the authenticated identity of the remote caller, when the
	// transport established one. Nil for local calls and unauthenticated
	// sessions.
	PeerID *interfaces.PublicKey
}

// ContextInitializer produces the base Context for each dispatched call.
// The dispatcher fills in RequestID and Local afterwards.
type ContextInitializer func() *Context
