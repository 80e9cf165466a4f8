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
// Package discoveryfs writes discovery and revocation documents to a
// LocalFileResolver-compatible tree, for publishers staging those files
// offline before they are served. Writes are atomic: temp file, fsync,
// rename.
package discoveryfs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"schemapin-go/internal/discovery"
)

// WriteDiscovery atomically writes dir/<domain>.json.
func WriteDiscovery(dir, domain string, doc *discovery.Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("discoveryfs: marshal discovery: %w", err)
	}
	return saveFile(dir, domain+".json", raw)
}

// WriteRevocation atomically writes dir/<domain>.revocations.json.
func WriteRevocation(dir, domain string, doc *discovery.RevocationDocument) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("discoveryfs: marshal revocation: %w", err)
	}
	return saveFile(dir, domain+".revocations.json", raw)
}

// saveFile writes data to dir/file atomically using a temporary file in the
// same directory, fsync, then rename.
func saveFile(dir, file string, data []byte) error {
	tmpFile, err := os.CreateTemp(dir, fmt.Sprintf(".%s.tmp-*", file))
	if err != nil {
		return fmt.Errorf("discoveryfs: create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmpFile.Name()) }()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("discoveryfs: write temp file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("discoveryfs: fsync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("discoveryfs: close temp file: %w", err)
	}

	target := filepath.Join(dir, file)
	if err := os.Rename(tmpFile.Name(), target); err != nil {
		return fmt.Errorf("discoveryfs: rename %s -> %s: %w", tmpFile.Name(), target, err)
	}

	return nil
}
