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

// Package tls builds the mTLS identities the scheduler protocol mints
// and consumes: a fresh P-256 device key pair, a self-signed CSR with
// the fixed Blockstream distinguished-name template, and client
// tls.Config values assembled from nobody or device credentials.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
)

// dnTemplate is the fixed subject DN prefix every device CSR carries,
// per the device CSR attributes: C=US, ST=CALIFORNIA, L=SAN FRANCISCO,
// O=Blockstream, OU=CertificateAuthority.
var dnTemplate = pkix.Name{
	Country:            []string{"US"},
	Province:           []string{"CALIFORNIA"},
	Locality:           []string{"SAN FRANCISCO"},
	Organization:       []string{"Blockstream"},
	OrganizationalUnit: []string{"CertificateAuthority"},
}

// GenerateDeviceKey returns a fresh P-256 key pair for a device
// identity.
func GenerateDeviceKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// commonName builds the "/users/{node_id}/{device}" CN path the device
// certificate and CSR share.
func commonName(nodeID, device string) string {
	return fmt.Sprintf("/users/%s/%s", nodeID, device)
}

// GenerateDeviceCSR produces a PEM-encoded PKCS#10 certificate request
// for a device key, with CN "/users/{node_id}/{device}" and the fixed
// Blockstream subject attributes, signed with ECDSA-SHA256.
func GenerateDeviceCSR(nodeID, device string, key *ecdsa.PrivateKey, sans []string) ([]byte, error) {
	subject := dnTemplate
	subject.CommonName = commonName(nodeID, device)

	template := &x509.CertificateRequest{
		Subject:            subject,
		DNSNames:           sans,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("tls: creating CSR: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}), nil
}

// GenerateSelfSignedDeviceCert produces a self-signed leaf certificate
// (not usable as a CA) and its PEM-encoded private key, for cases where
// the device needs a standalone identity before the scheduler countersigns
// it (e.g. Nobody credential bootstrap and tests).
func GenerateSelfSignedDeviceCert(nodeID, device string, sans []string) (certPEM, keyPEM []byte, err error) {
	key, err := GenerateDeviceKey()
	if err != nil {
		return nil, nil, fmt.Errorf("tls: generating device key: %w", err)
	}

	subject := dnTemplate
	subject.CommonName = commonName(nodeID, device)

	template := &x509.Certificate{
		SerialNumber:          newSerial(),
		Subject:               subject,
		DNSNames:              sans,
		BasicConstraintsValid: true,
		IsCA:                  false,
		KeyUsage:              x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("tls: creating self-signed certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("tls: marshaling device key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

func newSerial() *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		// crypto/rand failures are not recoverable here either.
		panic(err)
	}
	return serial
}

// ClientConfig assembles a *tls.Config for dialing the scheduler or node
// gRPC endpoints using an mTLS identity (device or nobody credentials)
// and a trusted CA pool.
func ClientConfig(certPEM, keyPEM, caPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("tls: loading client identity: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("tls: no valid CA certificates in supplied bundle")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
	}, nil
}

// ServerConfig assembles a *tls.Config for the plugin's node-facing
// StreamHsmRequests listener: it presents certPEM/keyPEM and requires
// every connecting device to present a certificate signed by clientCAPEM.
func ServerConfig(certPEM, keyPEM, clientCAPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("tls: loading server identity: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(clientCAPEM) {
		return nil, fmt.Errorf("tls: no valid CA certificates in supplied bundle")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}, nil
}
