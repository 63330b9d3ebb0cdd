// Package httpserver exposes the enclave RPC dispatcher and the verifier's
// maintenance operations over HTTP. It runs two listeners: the remote
// listener serves runtime-facing methods, the local loopback listener serves
// operator-facing methods (initialization, sync, drain). Metrics are served
// on a separate listener.
package httpserver
