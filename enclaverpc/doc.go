// Package enclaverpc routes calls into the enclave across its trust
// boundary. Methods register with a builder, the built routing table is
// immutable, and every call runs with a fresh per-call context. Local-only
// methods are reachable exclusively over the local channel and all other
// methods exclusively over the remote session.
package enclaverpc
