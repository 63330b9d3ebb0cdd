// Package keymanager implements the confidential key manager runtime logic:
// threshold-signed policy governance, master secret handling with key
// derivation bound to the active policy, and sealed master secret
// replication between authorized enclaves. Its methods are exposed through
// the enclave RPC dispatcher, with initialization reachable only over the
// local channel.
package keymanager
