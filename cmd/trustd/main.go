package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/enclave-trust-core/client"
	"github.com/ruteri/enclave-trust-core/cmd/flags"
	"github.com/ruteri/enclave-trust-core/cryptoutils"
	"github.com/ruteri/enclave-trust-core/enclaverpc"
	"github.com/ruteri/enclave-trust-core/httpserver"
	"github.com/ruteri/enclave-trust-core/interfaces"
	"github.com/ruteri/enclave-trust-core/keymanager"
	"github.com/ruteri/enclave-trust-core/resolver"
	"github.com/ruteri/enclave-trust-core/storage"
	"github.com/ruteri/enclave-trust-core/verifier"
)

var appFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.LocalListenAddrFlag,
	flags.NodeAddrFlag,
	flags.ConsensusDomainFlag,
	flags.DNSServerFlag,
	flags.TrustRootHeightFlag,
	flags.TrustRootHashFlag,
	flags.RuntimeIDFlag,
	flags.RuntimeVersionFlag,
	flags.CheckpointStoreFlag,
	flags.AttestationTypeFlag,
	flags.RAKSeedFlag,
	flags.PolicySignerFlag,
	flags.PolicyThresholdFlag,
	flags.MayGenerateFlag,
	flags.LogServiceFlagFn("trustd"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:   "trustd",
		Usage:  "Serve verified consensus state and key manager RPC from inside an enclave",
		Flags:  appFlags,
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	runtimeID, err := interfaces.NewNamespaceFromHex(cCtx.String(flags.RuntimeIDFlag.Name))
	if err != nil {
		logger.Error("Invalid runtime-id", "err", err)
		return err
	}

	version, err := parseVersion(cCtx.String(flags.RuntimeVersionFlag.Name))
	if err != nil {
		logger.Error("Invalid runtime-version", "err", err)
		return err
	}

	trustRoot := verifier.TrustRoot{
		Height:    cCtx.Uint64(flags.TrustRootHeightFlag.Name),
		Hash:      cCtx.String(flags.TrustRootHashFlag.Name),
		RuntimeID: runtimeID,
	}
	if _, err := trustRoot.HeaderHash(); err != nil {
		logger.Error("Invalid trust-root-hash", "err", err)
		return err
	}

	// Attestation and the runtime attestation key.
	provider, err := cryptoutils.AttestationProviderFor(cCtx.String(flags.AttestationTypeFlag.Name))
	if err != nil {
		logger.Error("Invalid attestation-type", "err", err)
		return err
	}

	var rak *cryptoutils.RAK
	if seedHex := cCtx.String(flags.RAKSeedFlag.Name); seedHex != "" {
		seed, err := hex.DecodeString(seedHex)
		if err != nil || len(seed) != 32 {
			logger.Error("Invalid rak-seed - must be 64 hex chars (32 bytes)", "err", err)
			return fmt.Errorf("invalid rak-seed: %v", err)
		}
		rak, err = cryptoutils.NewRAKFromSeed(seed, provider)
		if err != nil {
			logger.Error("Failed to create RAK from seed", "err", err)
			return err
		}
	} else {
		rak, err = cryptoutils.NewRAK(provider)
		if err != nil {
			logger.Error("Failed to create RAK", "err", err)
			return err
		}
	}
	logger.Info("RAK ready", "public_key", rak.Public().String(), "attestation", provider.AttestationType())

	// Consensus node endpoint, either direct or discovered over DNS.
	nodeAddr := cCtx.String(flags.NodeAddrFlag.Name)
	if domain := cCtx.String(flags.ConsensusDomainFlag.Name); domain != "" {
		res := resolver.New(cCtx.String(flags.DNSServerFlag.Name), logger)
		endpoints, err := res.Endpoints(domain)
		if err != nil {
			logger.Error("Consensus endpoint discovery failed", "domain", domain, "err", err)
			return err
		}
		nodeAddr = "http://" + strings.TrimSuffix(endpoints[0].Host, ".") + ":" + strconv.Itoa(int(endpoints[0].Port))
		logger.Info("Discovered consensus endpoint", "addr", nodeAddr)
	}
	nodeClient := client.New(nodeAddr, logger)

	// Checkpoint store, if any.
	var checkpointStore interfaces.CheckpointBackend
	if uris := cCtx.StringSlice(flags.CheckpointStoreFlag.Name); len(uris) > 0 {
		checkpointStore, err = storage.NewFactory(logger).CreateMultiBackend(uris)
		if err != nil {
			logger.Error("Failed to create checkpoint store", "err", err)
			return err
		}
	}

	lightClient, err := verifier.NewLightClient(verifier.Config{
		TrustRoot:       trustRoot,
		Source:          nodeClient,
		StateReader:     nodeClient,
		RAK:             rak.Public(),
		Version:         version,
		CheckpointStore: checkpointStore,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("Failed to create verifier", "err", err)
		return err
	}

	// Key manager policy and KDF. The policy document itself arrives through
	// the local init method after startup.
	signers, err := parseSigners(cCtx.StringSlice(flags.PolicySignerFlag.Name))
	if err != nil {
		logger.Error("Invalid policy-signer", "err", err)
		return err
	}
	policy, err := keymanager.NewPolicy(signers, cCtx.Int(flags.PolicyThresholdFlag.Name))
	if err != nil {
		logger.Error("Failed to create policy", "err", err)
		return err
	}

	isSecure := provider.AttestationType() != cryptoutils.DummyAttestation
	kdf := keymanager.NewKdf(runtimeID, isSecure)

	km, err := keymanager.New(keymanager.Config{
		RuntimeID: runtimeID,
		RAK:       rak,
		Policy:    policy,
		Kdf:       kdf,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to create key manager", "err", err)
		return err
	}

	builder := enclaverpc.NewBuilder(logger)
	if err := km.RegisterMethods(builder); err != nil {
		logger.Error("Failed to register key manager methods", "err", err)
		return err
	}
	dispatcher, err := builder.Build()
	if err != nil {
		logger.Error("Failed to build dispatcher", "err", err)
		return err
	}

	handler := httpserver.NewHandler(dispatcher, lightClient, logger)
	server, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	// Best-effort initial sync. The node may still be catching up; callers
	// drive further syncs through the local API.
	syncCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if height, err := nodeClient.LatestHeight(syncCtx); err != nil {
		logger.Warn("Could not fetch latest consensus height, deferring sync", "err", err)
	} else if err := lightClient.Sync(syncCtx, height); err != nil {
		if errors.Is(err, verifier.ErrTrustRootLoadingFailed) {
			cancel()
			logger.Error("Trust root rejected during initial sync", "err", err)
			return err
		}
		logger.Warn("Initial sync failed, deferring to local API", "err", err)
	} else {
		logger.Info("Initial sync complete", "height", height)
	}
	cancel()

	logger.Info("Starting server")
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

func parseVersion(s string) (interfaces.Version, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return interfaces.Version{}, fmt.Errorf("malformed version %q", s)
	}
	nums := make([]uint16, 3)
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return interfaces.Version{}, fmt.Errorf("malformed version %q: %w", s, err)
		}
		nums[i] = uint16(n)
	}
	return interfaces.Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func parseSigners(hexKeys []string) ([]interfaces.PublicKey, error) {
	signers := make([]interfaces.PublicKey, 0, len(hexKeys))
	for _, hexKey := range hexKeys {
		key, err := cryptoutils.NewPublicKeyFromHex(hexKey)
		if err != nil {
			return nil, fmt.Errorf("signer %q: %w", hexKey, err)
		}
		signers = append(signers, key)
	}
	return signers, nil
}
