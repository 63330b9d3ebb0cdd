// Package storage provides checkpoint store backends behind a URI-scheme
// factory. Checkpoints are the light client's persisted trust facts; a
// deployment configures one or more backend URIs and the multi-backend
// aggregates them for redundancy.
//
// Supported schemes:
//   - file://   - local filesystem
//   - s3://     - Amazon S3 or compatible object storage
//   - vault://  - HashiCorp Vault KV v2
//   - ipfs://   - IPFS via a node API, published under the node's IPNS key
//   - onchain:// - read-only checkpoints published by an operator contract
package storage
