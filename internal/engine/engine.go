// Package engine implements the 7-step verification flow applied uniformly
// to schemas and skills. The engine never raises: every failure is
// converted to a structured Result with a populated ErrorCode.
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"schemapin-go/internal/canonical"
	"schemapin-go/internal/discovery"
	"schemapin-go/internal/keys"
	"schemapin-go/internal/pinstore"
	"schemapin-go/internal/resolver"
	"schemapin-go/internal/signer"
)

// ErrorCode is the stable, string-serializable failure taxonomy.
type ErrorCode string

const (
	ErrSignatureInvalid             ErrorCode = "signature_invalid"
	ErrKeyNotFound                  ErrorCode = "key_not_found"
	ErrKeyRevoked                   ErrorCode = "key_revoked"
	ErrKeyPinMismatch               ErrorCode = "key_pin_mismatch"
	ErrDiscoveryFetchFailed         ErrorCode = "discovery_fetch_failed"
	ErrDiscoveryInvalid             ErrorCode = "discovery_invalid"
	ErrDomainMismatch               ErrorCode = "domain_mismatch"
	ErrSchemaCanonicalizationFailed ErrorCode = "schema_canonicalization_failed"
)

// KeyPinning reports the TOFU outcome for a verification call.
type KeyPinning struct {
	Status    pinstore.Status `json:"status"`
	FirstSeen bool            `json:"first_seen,omitempty"`
}

// Result is the structured outcome of a verification call. Valid is
// always present; on failure exactly one of ErrorCode is populated.
type Result struct {
	Valid         bool        `json:"valid"`
	Domain        string      `json:"domain,omitempty"`
	DeveloperName string      `json:"developer_name,omitempty"`
	KeyPinning    *KeyPinning `json:"key_pinning,omitempty"`
	ErrorCode     ErrorCode   `json:"error_code,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	Warnings      []string    `json:"warnings,omitempty"`
}

func failure(code ErrorCode, message string) *Result {
	return &Result{Valid: false, ErrorCode: code, ErrorMessage: message}
}

// PinStore is the minimal subset of the TOFU contract the engine consumes.
// The in-memory pinstore.Store satisfies it directly; the durable
// postgres-backed store satisfies it through postgres.RequestAdapter.
type PinStore interface {
	CheckAndPin(toolID, domain, fingerprint string) pinstore.Status
}

// Input bundles everything step 1-7 needs for a single verification. For
// schemas, SchemaRaw and SignatureB64 are set; for skills, SkillHash is
// populated by the workflow layer instead and SignatureB64 comes from the
// on-disk envelope.
type Input struct {
	ToolID       string
	Domain       string
	Discovery    *discovery.Document
	Revocation   *discovery.RevocationDocument
	PinStore     PinStore
	SignatureB64 string

	// Exactly one of these two must be set by the caller.
	SchemaRaw []byte
	SkillHash *[32]byte
}

// Verify runs the 7-step flow against a fully-resolved Input.
func Verify(in Input) *Result {
	// Step 1: validate discovery.
	if in.Discovery == nil {
		return failure(ErrDiscoveryInvalid, "discovery document is nil")
	}
	if err := in.Discovery.Validate(); err != nil {
		return failure(ErrDiscoveryInvalid, err.Error())
	}

	// Step 2: load key, fingerprint.
	pk, err := keys.LoadPublicKeyPEM(in.Discovery.PublicKeyPEM)
	if err != nil {
		return failure(ErrKeyNotFound, err.Error())
	}
	fingerprint, err := keys.Fingerprint(pk)
	if err != nil {
		return failure(ErrKeyNotFound, err.Error())
	}

	// Step 3: revocation.
	if err := discovery.CheckRevocationCombined(in.Discovery.RevokedKeys, in.Revocation, fingerprint); err != nil {
		return failure(ErrKeyRevoked, err.Error())
	}

	// Step 4: TOFU pin.
	var kp *KeyPinning
	if in.PinStore != nil {
		status := in.PinStore.CheckAndPin(in.ToolID, in.Domain, fingerprint)
		if status == pinstore.StatusChanged {
			return failure(ErrKeyPinMismatch, fmt.Sprintf("pinned fingerprint for (%s, %s) does not match", in.ToolID, in.Domain))
		}
		kp = &KeyPinning{Status: status, FirstSeen: status == pinstore.StatusFirstUse}
	}

	// Step 5: canonicalize & hash.
	var digest [32]byte
	switch {
	case in.SkillHash != nil:
		digest = *in.SkillHash
	case in.SchemaRaw != nil:
		digest, err = canonical.Hash(in.SchemaRaw)
		if err != nil {
			return failure(ErrSchemaCanonicalizationFailed, err.Error())
		}
	default:
		return failure(ErrSchemaCanonicalizationFailed, "no artifact supplied")
	}

	// Step 6: verify signature.
	if !signer.Verify(digest, in.SignatureB64, pk) {
		return failure(ErrSignatureInvalid, "signature does not verify against the discovered key")
	}

	// Step 7: success.
	result := &Result{
		Valid:         true,
		Domain:        in.Domain,
		DeveloperName: in.Discovery.DeveloperName,
		KeyPinning:    kp,
	}
	if in.Discovery.IsStaleVersion() {
		result.Warnings = append(result.Warnings, fmt.Sprintf("discovery schema_version %q predates 1.2", in.Discovery.SchemaVersion))
	}
	return result
}

// ResolverInput is the subset of Input needed before resolution has
// occurred; Domain and ToolID are required, the rest is filled in by
// VerifyWithResolver.
type ResolverInput struct {
	ToolID       string
	Domain       string
	PinStore     PinStore
	SignatureB64 string
	SchemaRaw    []byte
	SkillHash    *[32]byte
}

// VerifyWithResolver resolves discovery and revocation via r before
// delegating to the 7-step flow.
func VerifyWithResolver(ctx context.Context, r resolver.Resolver, in ResolverInput) *Result {
	disc, err := r.ResolveDiscovery(ctx, in.Domain)
	if err != nil || disc == nil {
		msg := "resolver returned no discovery document"
		if err != nil {
			msg = err.Error()
		}
		return failure(ErrDiscoveryFetchFailed, msg)
	}

	rev, err := r.ResolveRevocation(ctx, in.Domain, disc)
	if err != nil {
		rev = nil
	}

	return Verify(Input{
		ToolID:       in.ToolID,
		Domain:       in.Domain,
		Discovery:    disc,
		Revocation:   rev,
		PinStore:     in.PinStore,
		SignatureB64: in.SignatureB64,
		SchemaRaw:    in.SchemaRaw,
		SkillHash:    in.SkillHash,
	})
}

// ToJSON serializes a Result per the fixed external verification-result
// shape.
func (r *Result) ToJSON() ([]byte, error) {
	out, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal result: %w", err)
	}
	return out, nil
}
