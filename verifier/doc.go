// Package verifier implements the consensus light-client trust core: a
// forward-only verification watermark anchored at a deployment-time trust
// root, runtime header consistency checks against consensus commitments,
// freshness proofs against the enclave's own registry record, and local
// trust accumulation for compute results.
package verifier
