package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/enclave-trust-core/cryptoutils"
	"github.com/ruteri/enclave-trust-core/keymanager"
)

var flagLocalAddr = &cli.StringFlag{
	Name:  "local-addr",
	Value: "http://127.0.0.1:8081",
	Usage: "trustd local API address",
}

var flagRemoteAddr = &cli.StringFlag{
	Name:  "addr",
	Value: "http://127.0.0.1:8080",
	Usage: "trustd remote API address",
}

var flagPolicyFile = &cli.StringFlag{
	Name:     "policy-file",
	Required: true,
	Usage:    "path to the policy JSON file",
}

var flagSeed = &cli.StringFlag{
	Name:     "seed",
	Required: true,
	Usage:    "hex-encoded 32-byte ed25519 signing seed",
}

var flagSignedIn = &cli.StringFlag{
	Name:  "in",
	Usage: "existing signed policy JSON to append the signature to",
}

var flagMayGenerate = &cli.BoolFlag{
	Name:  "may-generate",
	Usage: "allow the enclave to generate a fresh master secret",
}

var flagHeight = &cli.Uint64Flag{
	Name:     "height",
	Required: true,
	Usage:    "consensus height to sync to",
}

func main() {
	app := &cli.App{
		Name:  "trustctl",
		Usage: "Operate a trustd enclave: sign policies, initialize the key manager, drive syncs",
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "generate a policy signing key",
				Action: runKeygen,
			},
			{
				Name:  "policy-sign",
				Usage: "endorse a policy document",
				Flags: []cli.Flag{
					flagPolicyFile,
					flagSeed,
					flagSignedIn,
				},
				Action: runPolicySign,
			},
			{
				Name:  "init",
				Usage: "install a signed policy and initialize key derivation",
				Flags: []cli.Flag{
					flagLocalAddr,
					flagPolicyFile,
					flagMayGenerate,
				},
				Action: runInit,
			},
			{
				Name:  "sync",
				Usage: "advance the verifier to a consensus height",
				Flags: []cli.Flag{
					flagLocalAddr,
					flagHeight,
				},
				Action: runSync,
			},
			{
				Name:  "height",
				Usage: "print the latest verified consensus height",
				Flags: []cli.Flag{
					flagRemoteAddr,
				},
				Action: runHeight,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runKeygen(cCtx *cli.Context) error {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return err
	}
	signer, err := cryptoutils.NewSignerFromSeed(seed)
	if err != nil {
		return err
	}

	out, err := json.Marshal(map[string]string{
		"seed":       hex.EncodeToString(seed),
		"public_key": signer.Public().String(),
	})
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runPolicySign(cCtx *cli.Context) error {
	seed, err := hex.DecodeString(cCtx.String(flagSeed.Name))
	if err != nil {
		return fmt.Errorf("invalid seed: %w", err)
	}
	signer, err := cryptoutils.NewSignerFromSeed(seed)
	if err != nil {
		return err
	}

	policyRaw, err := os.ReadFile(cCtx.String(flagPolicyFile.Name))
	if err != nil {
		return err
	}
	var policy keymanager.PolicyContent
	if err := json.Unmarshal(policyRaw, &policy); err != nil {
		return fmt.Errorf("invalid policy file: %w", err)
	}

	signed := keymanager.SignedPolicy{Policy: policy}
	if inPath := cCtx.String(flagSignedIn.Name); inPath != "" {
		inRaw, err := os.ReadFile(inPath)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(inRaw, &signed); err != nil {
			return fmt.Errorf("invalid signed policy file: %w", err)
		}
	}

	sig, err := keymanager.SignPolicy(&signed.Policy, signer)
	if err != nil {
		return err
	}
	signed.Signatures = append(signed.Signatures, *sig)

	out, err := json.Marshal(signed)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runInit(cCtx *cli.Context) error {
	signedRaw, err := os.ReadFile(cCtx.String(flagPolicyFile.Name))
	if err != nil {
		return err
	}
	var signed keymanager.SignedPolicy
	if err := json.Unmarshal(signedRaw, &signed); err != nil {
		return fmt.Errorf("invalid signed policy file: %w", err)
	}

	req := keymanager.InitRequest{
		SignedPolicy: signed,
		MayGenerate:  cCtx.Bool(flagMayGenerate.Name),
	}
	payload, err := cryptoutils.MarshalCanonical(req)
	if err != nil {
		return err
	}

	body, err := post(cCtx.String(flagLocalAddr.Name)+"/v1/enclave/"+keymanager.MethodInit, "application/cbor", payload)
	if err != nil {
		return err
	}

	var resp keymanager.SignedInitResponse
	if err := cryptoutils.UnmarshalCanonical(body, &resp); err != nil {
		return fmt.Errorf("malformed init response: %w", err)
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runSync(cCtx *cli.Context) error {
	payload, err := json.Marshal(map[string]uint64{"height": cCtx.Uint64(flagHeight.Name)})
	if err != nil {
		return err
	}
	_, err = post(cCtx.String(flagLocalAddr.Name)+"/v1/consensus/sync", "application/json", payload)
	return err
}

func runHeight(cCtx *cli.Context) error {
	resp, err := http.Get(cCtx.String(flagRemoteAddr.Name) + "/v1/consensus/height")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("trustd returned status %d: %s", resp.StatusCode, string(body))
	}
	fmt.Println(string(bytes.TrimSpace(body)))
	return nil
}

func post(url, contentType string, payload []byte) ([]byte, error) {
	resp, err := http.Post(url, contentType, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trustd returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
