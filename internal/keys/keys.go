/*
Copyright © 2025 Denis Khalturin
All rights reserved.

Redistribution and use in source and binary forms, with or without
modification, are permitted provided that the following conditions are met:

1. Redistributions of source code must retain the above copyright notice,
   this list of conditions and the following disclaimer.

2. Redistributions in binary form must reproduce the above copyright notice,
   this list of conditions and the following disclaimer in the documentation
   and/or other materials provided with the distribution.

3. Neither the name of the copyright holder nor the names of its contributors
   may be used to endorse or promote products derived from this software
   without specific prior written permission.

THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
POSSIBILITY OF SUCH DAMAGE.
*/
// prettier-ignore-end
// Package keys implements generation, PEM serialization, loading, and
// fingerprinting of ECDSA P-256 key pairs.
package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"io"
	"os"
)

// Option configures GenerateKeyPair.
type Option func(*generateConfig)

type generateConfig struct {
	rand io.Reader
}

// WithRandReader overrides the randomness source used during generation.
// Intended for deterministic tests only.
func WithRandReader(r io.Reader) Option {
	return func(c *generateConfig) { c.rand = r }
}

// GenerateKeyPair produces a new P-256 ECDSA key pair from a cryptographically
// secure random source.
func GenerateKeyPair(opts ...Option) (*ecdsa.PrivateKey, error) {
	cfg := generateConfig{rand: rand.Reader}
	for _, opt := range opts {
		opt(&cfg)
	}
	sk, err := ecdsa.GenerateKey(elliptic.P256(), cfg.rand)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return sk, nil
}

// ExportPrivateKeyPEM serializes sk as unencrypted PKCS#8 PEM.
func ExportPrivateKeyPEM(sk *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(sk)
	if err != nil {
		return "", fmt.Errorf("keys: marshal private key: %w", err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// ExportPublicKeyPEM serializes pk as SubjectPublicKeyInfo PEM.
func ExportPublicKeyPEM(pk *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pk)
	if err != nil {
		return "", fmt.Errorf("keys: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// LoadPrivateKeyPEM parses an unencrypted PKCS#8 PEM block containing a
// P-256 ECDSA private key.
func LoadPrivateKeyPEM(pemStr string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("keys: failed to decode PEM block containing private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse private key: %w", err)
	}
	sk, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keys: private key is not of type *ecdsa.PrivateKey")
	}
	if sk.Curve != elliptic.P256() {
		return nil, fmt.Errorf("keys: private key is not on curve P-256")
	}
	return sk, nil
}

// LoadPrivateKeyPEMFile reads and parses a private key PEM file.
func LoadPrivateKeyPEMFile(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read private key file: %w", err)
	}
	return LoadPrivateKeyPEM(string(raw))
}

// LoadPublicKeyPEM parses a SubjectPublicKeyInfo PEM block containing a
// P-256 ECDSA public key.
func LoadPublicKeyPEM(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("keys: failed to decode PEM block containing public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse public key: %w", err)
	}
	pk, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keys: public key is not of type *ecdsa.PublicKey")
	}
	if pk.Curve != elliptic.P256() {
		return nil, fmt.Errorf("keys: public key is not on curve P-256")
	}
	return pk, nil
}

// Fingerprint returns "sha256:" + lowercase hex of SHA-256 over the DER
// SubjectPublicKeyInfo encoding of pk. Re-serializing the parsed key makes
// the fingerprint independent of the PEM's original whitespace.
func Fingerprint(pk *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pk)
	if err != nil {
		return "", fmt.Errorf("keys: marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
