package cryptoutils

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	tdx_abi "github.com/google/go-tdx-guest/abi"
	tdx_client "github.com/google/go-tdx-guest/client"
	tdx_pb "github.com/google/go-tdx-guest/proto/tdx"
	"github.com/google/go-tdx-guest/verify"
)

// Supported attestation mechanisms.
const (
	DCAPAttestation   = "qemu-tdx"
	DummyAttestation  = "dummy"
	RemoteAttestation = "remote-tdx"
)

// AttestationProvider produces quotes over 64 bytes of report data. The
// report data binds the quote to a specific key and runtime (see
// RAK.ReportData).
type AttestationProvider interface {
	AttestationType() string
	Attest(reportData [64]byte) ([]byte, error)
}

// DCAPAttestationProvider obtains TDX quotes from the local quoting
// infrastructure, preferring the configfs interface when present.
type DCAPAttestationProvider struct{}

func (DCAPAttestationProvider) AttestationType() string { return DCAPAttestation }

func (DCAPAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

// RemoteAttestationProvider requests quotes from a quote-provider sidecar,
// for deployments where the enclave has no direct quoting device access.
type RemoteAttestationProvider struct {
	Address string
}

func (*RemoteAttestationProvider) AttestationType() string { return RemoteAttestation }

func (p *RemoteAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	url := fmt.Sprintf("%s/attest/%s", p.Address, hex.EncodeToString(reportData[:]))
	resp, err := http.DefaultClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("calling remote quote provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote quote provider returned status %d: %s", resp.StatusCode, string(body))
	}

	rawQuote, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading quote from response: %w", err)
	}
	return rawQuote, nil
}

// DummyAttestationProvider fabricates quotes. Not verifiable; for tests and
// non-TEE development runs only.
type DummyAttestationProvider struct{}

func (DummyAttestationProvider) AttestationType() string { return DummyAttestation }

func (DummyAttestationProvider) Attest(reportData [64]byte) ([]byte, error) {
	return []byte(fmt.Sprintf("dummy quote over %x", reportData)), nil
}

// TDXMeasurements are the measurement registers extracted from a verified
// TDX quote.
type TDXMeasurements struct {
	MrTd          []byte
	RTMRs         [4][]byte
	MrConfigId    []byte
	MrOwner       []byte
	MrOwnerConfig []byte
}

// VerifyDCAPQuote verifies a raw TDX quote against its collateral and checks
// that it covers the expected report data. On success it returns the quote's
// measurement registers.
func VerifyDCAPQuote(reportData [64]byte, rawQuote []byte) (*TDXMeasurements, error) {
	protoQuote, err := tdx_abi.QuoteToProto(rawQuote)
	if err != nil {
		return nil, fmt.Errorf("could not parse quote: %w", err)
	}

	v4Quote, ok := protoQuote.(*tdx_pb.QuoteV4)
	if !ok {
		return nil, fmt.Errorf("unsupported quote type: %T", protoQuote)
	}

	if err := verify.TdxQuote(protoQuote, verify.DefaultOptions()); err != nil {
		return nil, fmt.Errorf("quote verification failed: %w", err)
	}

	if !bytes.Equal(v4Quote.TdQuoteBody.ReportData, reportData[:]) {
		return nil, fmt.Errorf("quote report data mismatch: got %x, expected %x",
			v4Quote.TdQuoteBody.ReportData, reportData[:])
	}

	m := &TDXMeasurements{
		MrTd:          v4Quote.TdQuoteBody.MrTd,
		MrConfigId:    v4Quote.TdQuoteBody.MrConfigId,
		MrOwner:       v4Quote.TdQuoteBody.MrOwner,
		MrOwnerConfig: v4Quote.TdQuoteBody.MrOwnerConfig,
	}
	for i := range m.RTMRs {
		m.RTMRs[i] = v4Quote.TdQuoteBody.Rtmrs[i]
	}
	return m, nil
}

// ErrUnsupportedAttestation is returned for attestation types this build
// cannot produce or verify.
var ErrUnsupportedAttestation = errors.New("unsupported attestation type")

// AttestationProviderFor returns the provider implementing the named
// attestation mechanism.
func AttestationProviderFor(attestationType string) (AttestationProvider, error) {
	switch attestationType {
	case DCAPAttestation:
		return &DCAPAttestationProvider{}, nil
	case DummyAttestation:
		return &DummyAttestationProvider{}, nil
	default:
		return nil, ErrUnsupportedAttestation
	}
}
