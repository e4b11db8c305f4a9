// Copyright (C) 2025 the greenlight-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package scheduler implements the client side of the register/recover/
// schedule/attach protocol: each flow opens with a challenge from the
// scheduler, signed by the signer's node key, and closes with either a
// device-credentials blob or a gRPC URI where the node currently runs.
package scheduler

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/blockstream/greenlight-core/creds"
	gltls "github.com/blockstream/greenlight-core/internal/tls"
	"github.com/blockstream/greenlight-core/rpc"
)

// Signer is the subset of the signer's public contract the scheduler
// client needs: signing the scheduler's challenge and attesting to a
// freshly generated device public key, both with the node identity key.
type Signer interface {
	SignChallenge(challenge []byte) ([]byte, error)
	SignDeviceKey(pubkeyUncompressed []byte) ([]byte, error)
	NodeID() []byte
	Version() string
}

// Client talks to a scheduler over a SchedulerClient connection bound
// with nobody credentials (register/recover are the only calls nobody
// credentials are authorized for).
type Client struct {
	rpc     rpc.SchedulerClient
	signer  Signer
	network string
}

// New returns a scheduler client for the given network ("bitcoin",
// "testnet", "regtest").
func New(rpcClient rpc.SchedulerClient, signer Signer, network string) *Client {
	return &Client{rpc: rpcClient, signer: signer, network: network}
}

// Registration bundles the issued device credentials with the signer's
// attestation over the CSR's raw public key (spec §4.8 step 5): a
// signature the scheduler did not ask for but that proves the signer
// that minted this device's identity will recognize it later.
type Registration struct {
	Credentials creds.Device
	Attestation []byte
}

// Register runs the register flow: generate a device key pair and CSR,
// obtain and sign a challenge, submit the registration request, and
// return the resulting device credentials. bip32ExtKey is passed
// through to the scheduler unmodified. inviteCode is accepted but not
// sent: RegistrationRequestMsg has no field for it.
func (c *Client) Register(ctx context.Context, bip32ExtKey []byte, inviteCode string) (Registration, error) {
	deviceKey, csrPEM, err := c.generateDeviceCSR("device")
	if err != nil {
		return Registration{}, err
	}

	challengeResp, err := c.rpc.GetChallenge(ctx, &rpc.GetChallengeRequestMsg{Scope: rpc.ChallengeScopeRegister})
	if err != nil {
		return Registration{}, fmt.Errorf("scheduler: get_challenge: %w", err)
	}

	signature, err := c.signer.SignChallenge(challengeResp.Challenge)
	if err != nil {
		return Registration{}, fmt.Errorf("scheduler: signing challenge: %w", err)
	}

	req := &rpc.RegistrationRequestMsg{
		NodeID:        c.signer.NodeID(),
		Bip32ExtKey:   bip32ExtKey,
		Network:       c.network,
		Challenge:     challengeResp.Challenge,
		SignerVersion: c.signer.Version(),
		Signature:     signature,
		CSR:           csrPEM,
	}

	resp, err := c.rpc.Register(ctx, req)
	if err != nil {
		return Registration{}, fmt.Errorf("scheduler: register: %w", err)
	}

	return c.finishIssuance(resp, deviceKey)
}

// Recover runs the recover flow: identical to register except the
// challenge scope and CSR common name differ, and bip32ExtKey/invite
// code are not sent.
func (c *Client) Recover(ctx context.Context) (Registration, error) {
	challengeResp, err := c.rpc.GetChallenge(ctx, &rpc.GetChallengeRequestMsg{Scope: rpc.ChallengeScopeRecover})
	if err != nil {
		return Registration{}, fmt.Errorf("scheduler: get_challenge: %w", err)
	}

	deviceName := fmt.Sprintf("recovered-%s", hex.EncodeToString(firstN(challengeResp.Challenge, 4)))
	deviceKey, csrPEM, err := c.generateDeviceCSR(deviceName)
	if err != nil {
		return Registration{}, err
	}

	signature, err := c.signer.SignChallenge(challengeResp.Challenge)
	if err != nil {
		return Registration{}, fmt.Errorf("scheduler: signing challenge: %w", err)
	}

	req := &rpc.RecoveryRequestMsg{
		NodeID:        c.signer.NodeID(),
		Network:       c.network,
		Challenge:     challengeResp.Challenge,
		SignerVersion: c.signer.Version(),
		Signature:     signature,
		CSR:           csrPEM,
	}

	resp, err := c.rpc.Recover(ctx, req)
	if err != nil {
		return Registration{}, fmt.Errorf("scheduler: recover: %w", err)
	}

	return c.finishIssuance(resp, deviceKey)
}

// Schedule asks the scheduler where node nodeID is currently running.
func (c *Client) Schedule(ctx context.Context, nodeID []byte) (string, error) {
	resp, err := c.rpc.Schedule(ctx, &rpc.ScheduleRequestMsg{NodeID: nodeID})
	if err != nil {
		return "", fmt.Errorf("scheduler: schedule: %w", err)
	}
	return resp.GrpcURI, nil
}

// GetNodeInfo is like Schedule but optionally blocks (wait) until the
// node is running somewhere.
func (c *Client) GetNodeInfo(ctx context.Context, nodeID []byte, wait bool) (string, error) {
	resp, err := c.rpc.GetNodeInfo(ctx, &rpc.GetNodeInfoRequestMsg{NodeID: nodeID, Wait: wait})
	if err != nil {
		return "", fmt.Errorf("scheduler: get_node_info: %w", err)
	}
	return resp.GrpcURI, nil
}

// MaybeUpgrade announces the signer's cached startup messages so the
// node can boot while the signer is offline.
func (c *Client) MaybeUpgrade(ctx context.Context, initMsg []byte, signerVersion string, startupMessages [][]byte) error {
	_, err := c.rpc.MaybeUpgrade(ctx, &rpc.MaybeUpgradeRequestMsg{
		InitMsg:         initMsg,
		SignerVersion:   signerVersion,
		StartupMessages: startupMessages,
	})
	if err != nil {
		return fmt.Errorf("scheduler: maybe_upgrade: %w", err)
	}
	return nil
}

func (c *Client) generateDeviceCSR(deviceName string) (*ecdsa.PrivateKey, []byte, error) {
	key, err := gltls.GenerateDeviceKey()
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler: generating device key: %w", err)
	}

	csrPEM, err := gltls.GenerateDeviceCSR(hex.EncodeToString(c.signer.NodeID()), deviceName, key, []string{"localhost"})
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler: generating device CSR: %w", err)
	}

	return key, csrPEM, nil
}

// finishIssuance fills in the locally-generated private key when the
// modern server path omits it from the response (it never needs to
// leave the device), then asks the signer to attest to the device's
// raw public key before returning the assembled credential blob.
func (c *Client) finishIssuance(resp *rpc.CredentialsResponseMsg, deviceKey *ecdsa.PrivateKey) (Registration, error) {
	keyPEM := resp.DeviceKey
	if len(keyPEM) == 0 {
		der, err := x509.MarshalECPrivateKey(deviceKey)
		if err != nil {
			return Registration{}, fmt.Errorf("scheduler: marshaling device key: %w", err)
		}
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	}

	rawPubkey := elliptic.Marshal(deviceKey.PublicKey.Curve, deviceKey.PublicKey.X, deviceKey.PublicKey.Y)
	attestation, err := c.signer.SignDeviceKey(rawPubkey)
	if err != nil {
		return Registration{}, fmt.Errorf("scheduler: signing device key attestation: %w", err)
	}

	return Registration{
		Credentials: creds.NewDevice(resp.DeviceCert, keyPEM, resp.CA, resp.Rune),
		Attestation: attestation,
	}, nil
}

func firstN(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
