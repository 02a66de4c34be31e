// Package cipherlink is an encrypted tunneling proxy.
//
// A Client accepts local TCP connections from applications speaking SOCKS5
// and forwards their bytes through an authenticated, encrypted tunnel to a
// Server, which parses the SOCKS5 exchange from the decrypted stream, opens
// the requested upstream connection, and pumps bytes in both directions.
//
// Both ends share a single 32-byte symmetric key distributed out of band
// (see cmd/cipherlink-genkeys). Every frame on the wire is sealed with
// NaCl secretbox under a fresh random nonce; sessions rekey automatically
// on time and volume triggers, probe idle peers, and optionally derive
// per-session traffic keys through a PSK-authenticated Noise handshake.
//
// # Server
//
//	cfg, err := config.Load("cipherlink.toml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	srv, err := cipherlink.NewServer(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Client
//
//	cli, err := cipherlink.NewClient(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cli.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// Point the application's SOCKS5 proxy setting at the client's listen
// address and traffic flows through the tunnel.
package cipherlink
