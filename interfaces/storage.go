package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// Checkpoint is a persisted light-client trust fact: the highest verified
// consensus header for a runtime. Checkpoints let a restarted process
// resume verification from a later anchor instead of the deployment-time
// trust root.
type Checkpoint struct {
	// RuntimeID is the runtime the checkpoint belongs to.
	RuntimeID Namespace `json:"runtime_id" cbor:"runtime_id"`

	// Height is the verified consensus height.
	Height uint64 `json:"height" cbor:"height"`

	// Hash is the verified consensus header hash at Height.
	Hash Hash `json:"hash" cbor:"hash"`

	// Epoch is the consensus epoch at Height.
	Epoch EpochTime `json:"epoch" cbor:"epoch"`
}

var (
	// ErrCheckpointNotFound is returned when a backend holds no checkpoint
	// for the requested runtime.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrBackendUnavailable is returned when a checkpoint backend is not
	// accessible.
	ErrBackendUnavailable = errors.New("checkpoint backend unavailable")

	// ErrInvalidLocationURI is returned when a checkpoint store URI is
	// malformed or names an unsupported scheme.
	ErrInvalidLocationURI = errors.New("invalid checkpoint store URI")

	// ErrReadOnlyBackend is returned when storing to a backend that only
	// serves operator-published checkpoints.
	ErrReadOnlyBackend = errors.New("checkpoint backend is read-only")
)

// CheckpointBackend persists and retrieves light-client checkpoints.
type CheckpointBackend interface {
	// Fetch retrieves the latest checkpoint recorded for a runtime.
	// Returns ErrCheckpointNotFound if the backend holds none.
	Fetch(ctx context.Context, runtimeID Namespace) (*Checkpoint, error)

	// Store records a checkpoint. Backends must never replace a stored
	// checkpoint with one at a lower height.
	Store(ctx context.Context, checkpoint *Checkpoint) error

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this backend.
	LocationURI() string
}

// CheckpointStoreLocation is a parsed checkpoint store URI.
type CheckpointStoreLocation struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	Query  url.Values
	Auth   string
}

// NewCheckpointStoreLocation parses and validates a checkpoint store URI.
// Supported schemes: file://, s3://, vault://, ipfs://, onchain://.
func NewCheckpointStoreLocation(uri string) (CheckpointStoreLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return CheckpointStoreLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "vault", "ipfs", "onchain":
	default:
		return CheckpointStoreLocation{}, fmt.Errorf("%w: unsupported scheme %s", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return CheckpointStoreLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc CheckpointStoreLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc CheckpointStoreLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}
