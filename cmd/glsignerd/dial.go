package main

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/blockstream/greenlight-core/config"
	"github.com/blockstream/greenlight-core/creds"
	gltls "github.com/blockstream/greenlight-core/internal/tls"
	"github.com/blockstream/greenlight-core/rpc"
)

// dialScheduler opens an mTLS connection to the scheduler using the
// baseline "nobody" identity, the only credential set authorized to
// call register/recover (spec §4.8).
func dialScheduler(ctx context.Context, cfg *config.SignerConfig) (rpc.SchedulerClient, func() error, error) {
	cert, err := os.ReadFile(cfg.NobodyCrtPath)
	if err != nil {
		return nil, nil, fmt.Errorf("glsignerd: reading nobody cert: %w", err)
	}
	key, err := os.ReadFile(cfg.NobodyKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("glsignerd: reading nobody key: %w", err)
	}
	ca, err := os.ReadFile(cfg.CACrtPath)
	if err != nil {
		return nil, nil, fmt.Errorf("glsignerd: reading CA cert: %w", err)
	}

	nobody, err := creds.NewNobody(cert, key, ca)
	if err != nil {
		return nil, nil, fmt.Errorf("glsignerd: %w", err)
	}

	tlsConfig, err := gltls.ClientConfig(nobody.Cert, nobody.Key, nobody.CA)
	if err != nil {
		return nil, nil, fmt.Errorf("glsignerd: building nobody TLS config: %w", err)
	}

	conn, err := grpc.NewClient(cfg.SchedulerURI,
		grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rpc.Codec)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("glsignerd: dialing scheduler %q: %w", cfg.SchedulerURI, err)
	}

	return rpc.NewSchedulerClient(conn), conn.Close, nil
}

// dialNode opens an mTLS connection to a node at uri using the device's
// issued credentials, returning the live NodeClient the signer attach
// loop streams over.
func dialNode(ctx context.Context, uri string, dev creds.Device, caPath string) (rpc.NodeClient, func() error, error) {
	ca, err := os.ReadFile(caPath)
	if err != nil {
		return nil, nil, fmt.Errorf("glsignerd: reading CA cert: %w", err)
	}

	tlsConfig, err := gltls.ClientConfig(dev.Cert, dev.Key, ca)
	if err != nil {
		return nil, nil, fmt.Errorf("glsignerd: building device TLS config: %w", err)
	}

	conn, err := grpc.NewClient(uri,
		grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rpc.Codec)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("glsignerd: dialing node %q: %w", uri, err)
	}

	return rpc.NewNodeClient(conn), conn.Close, nil
}
