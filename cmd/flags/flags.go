package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/enclave-trust-core/common"
	"github.com/ruteri/enclave-trust-core/httpserver"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		LocalListenAddr:          cCtx.String(LocalListenAddrFlag.Name),
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for remote enclave RPC",
}
var LocalListenAddrFlag = &cli.StringFlag{
	Name:  "local-listen-addr",
	Value: "127.0.0.1:8081",
	Usage: "address to listen on for local-only enclave RPC",
}

var NodeAddrFlag = &cli.StringFlag{
	Name:  "node-addr",
	Value: "http://127.0.0.1:26657",
	Usage: "consensus node API address to fetch headers and registry state from",
}
var ConsensusDomainFlag = &cli.StringFlag{
	Name:  "consensus-domain",
	Usage: "DNS domain with SRV records for consensus endpoints, overrides node-addr",
}
var DNSServerFlag = &cli.StringFlag{
	Name:  "dns-server",
	Usage: "DNS server to use for consensus endpoint discovery",
}

var TrustRootHeightFlag = &cli.Uint64Flag{
	Name:     "trust-root-height",
	Required: true,
	Usage:    "consensus height of the embedded trust root",
}
var TrustRootHashFlag = &cli.StringFlag{
	Name:     "trust-root-hash",
	Required: true,
	Usage:    "hex-encoded consensus header hash at the trust root height",
}
var RuntimeIDFlag = &cli.StringFlag{
	Name:     "runtime-id",
	Required: true,
	Usage:    "hex-encoded runtime identifier this enclave serves",
}
var RuntimeVersionFlag = &cli.StringFlag{
	Name:  "runtime-version",
	Value: "1.0.0",
	Usage: "runtime version in major.minor.patch form",
}

var CheckpointStoreFlag = &cli.StringSliceFlag{
	Name:  "checkpoint-store",
	Usage: "checkpoint store URIs (file://, s3://, vault://, ipfs://, onchain://), may repeat",
}

var AttestationTypeFlag = &cli.StringFlag{
	Name:  "attestation-type",
	Value: "dummy",
	Usage: "attestation provider: 'qemu-tdx', 'remote-tdx' or 'dummy'",
}
var RAKSeedFlag = &cli.StringFlag{
	Name:  "rak-seed",
	Usage: "hex-encoded 32-byte RAK seed for deterministic dev deployments",
}

var PolicySignerFlag = &cli.StringSliceFlag{
	Name:  "policy-signer",
	Usage: "hex-encoded trusted policy signer public key, may repeat",
}
var PolicyThresholdFlag = &cli.IntFlag{
	Name:  "policy-threshold",
	Value: 1,
	Usage: "number of trusted signatures a key manager policy requires",
}
var MayGenerateFlag = &cli.BoolFlag{
	Name:  "may-generate",
	Value: false,
	Usage: "allow this enclave to generate the master secret instead of replicating it",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
