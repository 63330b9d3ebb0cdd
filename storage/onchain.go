package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ruteri/enclave-trust-core/interfaces"
)

// checkpointRegistryABI is the read surface of the operator's checkpoint
// registry contract.
const checkpointRegistryABI = `[{"inputs":[{"internalType":"bytes32","name":"runtimeId","type":"bytes32"}],"name":"latestCheckpoint","outputs":[{"internalType":"uint64","name":"height","type":"uint64"},{"internalType":"bytes32","name":"hash","type":"bytes32"},{"internalType":"uint64","name":"epoch","type":"uint64"}],"stateMutability":"view","type":"function"}]`

// ContractCaller is the subset of the Ethereum client used for read-only
// contract calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// OnchainBackend reads operator-published checkpoints from a registry
// contract. It is read-only: enclaves consume on-chain trust anchors, they
// never publish them.
type OnchainBackend struct {
	caller       ContractCaller
	contractAddr common.Address
	parsedABI    abi.ABI
	log          *slog.Logger
	locationURI  string
}

// NewOnchainBackend creates a read-only on-chain checkpoint backend for the
// given registry contract.
func NewOnchainBackend(caller ContractCaller, contractAddr common.Address, log *slog.Logger) (*OnchainBackend, error) {
	parsedABI, err := abi.JSON(strings.NewReader(checkpointRegistryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint registry ABI: %w", err)
	}

	return &OnchainBackend{
		caller:       caller,
		contractAddr: contractAddr,
		parsedABI:    parsedABI,
		log:          log,
		locationURI:  fmt.Sprintf("onchain://%s", contractAddr.Hex()),
	}, nil
}

// Fetch calls latestCheckpoint on the registry contract. A zero height means
// no checkpoint was published for the runtime.
func (b *OnchainBackend) Fetch(ctx context.Context, runtimeID interfaces.Namespace) (*interfaces.Checkpoint, error) {
	var runtimeIDArg [32]byte
	copy(runtimeIDArg[:], runtimeID.Bytes())

	input, err := b.parsedABI.Pack("latestCheckpoint", runtimeIDArg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode contract call: %w", err)
	}

	output, err := b.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &b.contractAddr,
		Data: input,
	}, nil)
	if err != nil {
		b.log.Warn("Checkpoint contract call failed",
			slog.String("contract", b.contractAddr.Hex()),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	results, err := b.parsedABI.Unpack("latestCheckpoint", output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode contract response: %w", err)
	}

	height := results[0].(uint64)
	if height == 0 {
		return nil, interfaces.ErrCheckpointNotFound
	}
	hashBytes := results[1].([32]byte)
	epoch := results[2].(uint64)

	b.log.Debug("Fetched checkpoint from chain",
		slog.String("contract", b.contractAddr.Hex()),
		slog.Uint64("height", height))

	return &interfaces.Checkpoint{
		RuntimeID: runtimeID,
		Height:    height,
		Hash:      interfaces.Hash(hashBytes),
		Epoch:     interfaces.EpochTime(epoch),
	}, nil
}

// Store is not supported; on-chain checkpoints are operator-published.
func (b *OnchainBackend) Store(ctx context.Context, checkpoint *interfaces.Checkpoint) error {
	return interfaces.ErrReadOnlyBackend
}

// Available reports whether the contract answers read calls. A not-found
// response still proves the contract is reachable.
func (b *OnchainBackend) Available(ctx context.Context) bool {
	_, err := b.Fetch(ctx, interfaces.Namespace{})
	return err == nil || errors.Is(err, interfaces.ErrCheckpointNotFound)
}

// Name returns a unique identifier for this backend.
func (b *OnchainBackend) Name() string {
	return fmt.Sprintf("onchain-%s", b.contractAddr.Hex())
}

// LocationURI returns the URI that identifies this backend.
func (b *OnchainBackend) LocationURI() string {
	return b.locationURI
}
