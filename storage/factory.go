package storage

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// Factory creates checkpoint backends from location URIs.
type Factory struct {
	log *slog.Logger

	// ethDial connects to an Ethereum RPC endpoint for onchain:// backends.
	// Split out so tests can stub it.
	ethDial func(rawurl string) (ContractCaller, error)
}

// NewFactory creates a checkpoint backend factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{
		log: log,
		ethDial: func(rawurl string) (ContractCaller, error) {
			return ethclient.Dial(rawurl)
		},
	}
}

// BackendFor creates a checkpoint backend from a location URI.
// The URI format is [scheme]://[auth@]host[:port][/path][?params].
func (f *Factory) BackendFor(uri string) (interfaces.CheckpointBackend, error) {
	loc, err := interfaces.NewCheckpointStoreLocation(uri)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case "file":
		return f.createFileBackend(loc)
	case "s3":
		return f.createS3Backend(loc)
	case "vault":
		return f.createVaultBackend(loc)
	case "ipfs":
		return f.createIPFSBackend(loc)
	case "onchain":
		return f.createOnchainBackend(loc)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %s", interfaces.ErrInvalidLocationURI, loc.Scheme)
	}
}

// CreateMultiBackend creates a redundant checkpoint store from a list of
// location URIs, skipping URIs that fail to produce a backend. At least one
// backend must be created.
func (f *Factory) CreateMultiBackend(uris []string) (interfaces.CheckpointBackend, error) {
	backends := make([]interfaces.CheckpointBackend, 0, len(uris))
	for _, uri := range uris {
		backend, err := f.BackendFor(uri)
		if err != nil {
			f.log.Warn("Failed to create checkpoint backend",
				slog.String("locationURI", uri),
				"err", err)
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid checkpoint backends created")
	}
	return NewMultiBackend(backends, f.log), nil
}

// createFileBackend handles file:///absolute/path URIs.
func (f *Factory) createFileBackend(loc interfaces.CheckpointStoreLocation) (interfaces.CheckpointBackend, error) {
	path := loc.Path
	if loc.Host != "" {
		path = loc.Host + "/" + path
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI", interfaces.ErrInvalidLocationURI)
	}
	return NewFileBackend(path, f.log)
}

// createS3Backend handles s3://[ACCESS_KEY:SECRET_KEY@]bucket/path?region=…
// URIs.
func (f *Factory) createS3Backend(loc interfaces.CheckpointStoreLocation) (interfaces.CheckpointBackend, error) {
	region := loc.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if loc.Auth != "" {
		parts := splitAuth(loc.Auth)
		accessKey, secretKey = parts[0], parts[1]
	}

	return NewS3Backend(loc.Host, strings.TrimPrefix(loc.Path, "/"), region, loc.GetParam("endpoint"), accessKey, secretKey, f.log)
}

// createVaultBackend handles vault://host:port/mount/path?token=… URIs.
func (f *Factory) createVaultBackend(loc interfaces.CheckpointStoreLocation) (interfaces.CheckpointBackend, error) {
	scheme := loc.GetParam("scheme")
	if scheme == "" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, loc.Host)

	mount, dataPath := splitMountPath(loc.Path)
	if mount == "" {
		mount = "secret"
	}
	if dataPath == "" {
		dataPath = "checkpoints"
	}

	return NewVaultBackend(address, loc.GetParam("token"), mount, dataPath, f.log)
}

// createIPFSBackend handles ipfs://host:port/?timeout=30s URIs.
func (f *Factory) createIPFSBackend(loc interfaces.CheckpointStoreLocation) (interfaces.CheckpointBackend, error) {
	host, port := splitHostPort(loc.Host)
	if port == "" {
		port = "5001"
	}
	timeout := loc.GetParam("timeout")
	if timeout == "" {
		timeout = "30s"
	}
	return NewIPFSBackend(host, port, timeout, f.log)
}

// createOnchainBackend handles onchain://0xCONTRACT?rpc=https://… URIs.
func (f *Factory) createOnchainBackend(loc interfaces.CheckpointStoreLocation) (interfaces.CheckpointBackend, error) {
	if !common.IsHexAddress(loc.Host) {
		return nil, fmt.Errorf("%w: invalid contract address %s", interfaces.ErrInvalidLocationURI, loc.Host)
	}

	rpcURL := loc.GetParam("rpc")
	if rpcURL == "" {
		return nil, fmt.Errorf("%w: onchain URI requires an rpc parameter", interfaces.ErrInvalidLocationURI)
	}

	caller, err := f.ethDial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	return NewOnchainBackend(caller, common.HexToAddress(loc.Host), f.log)
}

func splitAuth(auth string) [2]string {
	key, secret, _ := strings.Cut(auth, ":")
	return [2]string{key, secret}
}

func splitHostPort(host string) (string, string) {
	idx := strings.LastIndex(host, ":")
	if idx < 0 {
		return host, ""
	}
	return host[:idx], host[idx+1:]
}

func splitMountPath(path string) (string, string) {
	mount, rest, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return mount, rest
}
