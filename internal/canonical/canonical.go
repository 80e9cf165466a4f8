// Package canonical implements deterministic byte encoding of JSON schemas,
// per the rules fixed so independent implementations agree byte-for-byte.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// ErrDuplicateKey is returned when an object in the input carries the same
// key twice. The canonicalization library itself is silent on this, so it
// is enforced here with an explicit pre-scan.
type ErrDuplicateKey struct {
	Key string
}

func (e *ErrDuplicateKey) Error() string {
	return fmt.Sprintf("canonical: duplicate object key %q", e.Key)
}

// Canonicalize returns the canonical UTF-8 byte encoding of raw, a JSON
// document. raw must already be valid JSON; object key order in raw is
// irrelevant to the result.
func Canonicalize(raw []byte) ([]byte, error) {
	if err := rejectDuplicateKeys(raw); err != nil {
		return nil, err
	}
	out, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform: %w", err)
	}
	return out, nil
}

// CanonicalizeValue marshals v to JSON and canonicalizes the result. Use
// Canonicalize directly when the caller already holds raw JSON bytes, since
// marshaling a Go value loses the ability to detect duplicate keys that
// existed only in the original wire form.
func CanonicalizeValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	return Canonicalize(raw)
}

// Hash returns SHA-256(Canonicalize(raw)).
func Hash(raw []byte) ([32]byte, error) {
	canon, err := Canonicalize(raw)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canon), nil
}

// rejectDuplicateKeys walks raw with a streaming decoder and fails on the
// first object that repeats a key at the same nesting level.
func rejectDuplicateKeys(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	_, err := decodeValue(dec)
	return err
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			seen := make(map[string]struct{})
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("canonical: decode key: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("canonical: non-string object key")
				}
				if _, dup := seen[key]; dup {
					return nil, &ErrDuplicateKey{Key: key}
				}
				seen[key] = struct{}{}
				if _, err := decodeValue(dec); err != nil {
					return nil, err
				}
			}
			if _, err := dec.Token(); err != nil { // closing '}'
				return nil, fmt.Errorf("canonical: decode: %w", err)
			}
			return nil, nil
		case '[':
			for dec.More() {
				if _, err := decodeValue(dec); err != nil {
					return nil, err
				}
			}
			if _, err := dec.Token(); err != nil { // closing ']'
				return nil, fmt.Errorf("canonical: decode: %w", err)
			}
			return nil, nil
		}
	}
	return tok, nil
}
