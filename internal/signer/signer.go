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
// Package signer implements ECDSA P-256/SHA-256 signing and verification
// over a pre-computed digest. The digest is never re-hashed here.
package signer

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Signer wraps an ECDSA private key and signs pre-hashed digests.
type Signer struct {
	privateKey *ecdsa.PrivateKey
}

// New wraps sk as a Signer.
func New(sk *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: sk}
}

// Sign produces an ECDSA DER signature over digest (already SHA-256 hashed
// by the caller), base64-encoded for transport. Signatures are not
// required to be deterministic; crypto/ecdsa's default RFC 6979-free
// randomized signing is used here, and verifiers accept both forms.
func (s *Signer) Sign(digest [32]byte) (string, error) {
	sig, err := ecdsa.SignASN1(rand.Reader, s.privateKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("signer: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether sigB64 is a valid ECDSA signature over digest
// under pk. It returns false (never an error) on any decode failure, per
// the fixed contract: verification failures are data, not exceptions.
func Verify(digest [32]byte, sigB64 string, pk *ecdsa.PublicKey) bool {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	return ecdsa.VerifyASN1(pk, digest[:], sig)
}
