// Package workflow provides the small façade surface client code actually
// calls: sign/verify a single schema, or sign/verify a skill directory as
// a unit. Every façade composes canonical, skillhash, keys, signer,
// discovery, resolver, and engine without adding policy of its own beyond
// the documented auto-pin switch.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"schemapin-go/internal/canonical"
	"schemapin-go/internal/discovery"
	"schemapin-go/internal/engine"
	"schemapin-go/internal/keys"
	"schemapin-go/internal/metrics"
	"schemapin-go/internal/resolver"
	"schemapin-go/internal/signer"
	"schemapin-go/internal/skillhash"
)

// resultLabel reduces a Result to the label metrics.Collector.IncVerify
// tracks it under: "valid" on success, the ErrorCode string otherwise.
func resultLabel(result *engine.Result) string {
	if result.Valid {
		return "valid"
	}
	return string(result.ErrorCode)
}

// observe records a verification outcome and, when the engine reached the
// TOFU step, its pin status, against collector. A nil collector is a no-op
// so callers that don't want metrics don't have to construct one.
func observe(collector *metrics.Collector, domain string, result *engine.Result) {
	if collector == nil {
		return
	}
	collector.IncVerify(resultLabel(result), domain)
	if result.KeyPinning != nil {
		collector.IncPinStatus(string(result.KeyPinning.Status), domain)
	}
}

// SchemaSigningWorkflow signs schemas under a single private key.
type SchemaSigningWorkflow struct {
	signer *signer.Signer
}

// NewSchemaSigningWorkflow loads privateKeyPEM and returns a ready signer.
func NewSchemaSigningWorkflow(privateKeyPEM string) (*SchemaSigningWorkflow, error) {
	sk, err := keys.LoadPrivateKeyPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("workflow: load private key: %w", err)
	}
	return &SchemaSigningWorkflow{signer: signer.New(sk)}, nil
}

// SignSchema canonicalizes and signs raw schema bytes, returning the
// base64 DER signature.
func (w *SchemaSigningWorkflow) SignSchema(raw []byte) (string, error) {
	digest, err := canonical.Hash(raw)
	if err != nil {
		return "", fmt.Errorf("workflow: canonicalize schema: %w", err)
	}
	return w.signer.Sign(digest)
}

// SchemaVerificationWorkflow wraps the engine with a resolver and an
// optional pin store. When AutoPin is false, pinning decisions are the
// caller's responsibility: CheckAndPin is simply not invoked and the
// Result carries no KeyPinning, so whether the key is first-seen, pinned
// or changed is not reported.
type SchemaVerificationWorkflow struct {
	Resolver  resolver.Resolver
	PinStore  engine.PinStore
	AutoPin   bool
	Collector *metrics.Collector
}

// NewSchemaVerificationWorkflow builds a workflow around r. store may be
// nil when the caller only wants discovery/signature checks without TOFU.
func NewSchemaVerificationWorkflow(r resolver.Resolver, store engine.PinStore, autoPin bool) *SchemaVerificationWorkflow {
	return &SchemaVerificationWorkflow{Resolver: r, PinStore: store, AutoPin: autoPin}
}

// VerifySchema resolves domain's discovery/revocation documents and runs
// the 7-step flow against raw and sigB64. The outcome and, when reached,
// the TOFU pin status are recorded against Collector when one is set.
func (w *SchemaVerificationWorkflow) VerifySchema(ctx context.Context, toolID, domain string, raw []byte, sigB64 string) *engine.Result {
	var store engine.PinStore
	if w.AutoPin {
		store = w.PinStore
	}
	result := engine.VerifyWithResolver(ctx, w.Resolver, engine.ResolverInput{
		ToolID:       toolID,
		Domain:       domain,
		PinStore:     store,
		SignatureB64: sigB64,
		SchemaRaw:    raw,
	})
	observe(w.Collector, domain, result)
	return result
}

// Envelope is the on-disk .schemapin.sig shape.
type Envelope struct {
	SchemapinVersion string            `json:"schemapin_version"`
	SkillName        string            `json:"skill_name"`
	SkillHash        string            `json:"skill_hash"`
	Signature        string            `json:"signature"`
	SignedAt         string            `json:"signed_at"`
	Domain           string            `json:"domain"`
	SignerKID        string            `json:"signer_kid,omitempty"`
	FileManifest     map[string]string `json:"file_manifest"`
}

// SkillSigner signs and verifies filesystem-backed skills; it holds no
// state beyond what each call receives.
type SkillSigner struct{}

// SignSkill canonicalizes dir, signs its root hash with skPEM, and writes
// dir/.schemapin.sig. skillName defaults to dir's base name.
func (SkillSigner) SignSkill(dir, skPEM, domain, signerKID, skillName string) (*Envelope, error) {
	sk, err := keys.LoadPrivateKeyPEM(skPEM)
	if err != nil {
		return nil, fmt.Errorf("workflow: load private key: %w", err)
	}
	rootHash, manifest, err := skillhash.Canonicalize(dir)
	if err != nil {
		return nil, fmt.Errorf("workflow: canonicalize skill: %w", err)
	}
	sigB64, err := signer.New(sk).Sign(rootHash)
	if err != nil {
		return nil, fmt.Errorf("workflow: sign skill: %w", err)
	}
	if skillName == "" {
		skillName = filepath.Base(dir)
	}

	envelope := &Envelope{
		SchemapinVersion: "1.3",
		SkillName:        skillName,
		SkillHash:        "sha256:" + hexEncode(rootHash[:]),
		Signature:        sigB64,
		SignedAt:         time.Now().UTC().Format(time.RFC3339),
		Domain:           domain,
		SignerKID:        signerKID,
		FileManifest:     manifest,
	}

	raw, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("workflow: marshal envelope: %w", err)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(filepath.Join(dir, skillhash.SignatureFilename), raw, 0o644); err != nil {
		return nil, fmt.Errorf("workflow: write envelope: %w", err)
	}
	return envelope, nil
}

// LoadEnvelope reads dir/.schemapin.sig.
func LoadEnvelope(dir string) (*Envelope, error) {
	raw, err := os.ReadFile(filepath.Join(dir, skillhash.SignatureFilename))
	if err != nil {
		return nil, fmt.Errorf("workflow: read envelope: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("workflow: unmarshal envelope: %w", err)
	}
	return &env, nil
}

// VerifySkillOffline re-canonicalizes dir and runs the 7-step flow with
// steps 5 and 6 specialized to directory hashing; disc must already be
// resolved and validated by the caller (e.g. via a resolver or a pinned
// local copy). expectedDomain is checked against the envelope's own
// domain field first and fails closed with ErrDomainMismatch on a
// mismatch, before the (possibly forged) envelope domain is ever handed
// to the engine — the schema path has no equivalent caller-asserted
// domain to check against, since it takes domain directly from the
// caller rather than from a file under verification. A nil collector
// disables metrics.
func (SkillSigner) VerifySkillOffline(dir string, expectedDomain string, disc *discovery.Document, rev *discovery.RevocationDocument, pinStore engine.PinStore, toolID string, collector *metrics.Collector) *engine.Result {
	env, err := LoadEnvelope(dir)
	if err != nil {
		return &engine.Result{Valid: false, ErrorCode: engine.ErrSchemaCanonicalizationFailed, ErrorMessage: err.Error()}
	}

	if env.Domain != expectedDomain {
		result := &engine.Result{
			Valid:        false,
			ErrorCode:    engine.ErrDomainMismatch,
			ErrorMessage: fmt.Sprintf("envelope domain %q does not match expected domain %q", env.Domain, expectedDomain),
		}
		observe(collector, expectedDomain, result)
		return result
	}

	rootHash, manifest, err := skillhash.Canonicalize(dir)
	if err != nil {
		return &engine.Result{Valid: false, ErrorCode: engine.ErrSchemaCanonicalizationFailed, ErrorMessage: err.Error()}
	}

	result := engine.Verify(engine.Input{
		ToolID:       toolID,
		Domain:       env.Domain,
		Discovery:    disc,
		Revocation:   rev,
		PinStore:     pinStore,
		SignatureB64: env.Signature,
		SkillHash:    &rootHash,
	})
	if !result.Valid {
		observe(collector, expectedDomain, result)
		return result
	}

	report := skillhash.DetectTampered(manifest, env.FileManifest)
	if len(report.Modified)+len(report.Added)+len(report.Removed) > 0 {
		result.Warnings = append(result.Warnings, "file manifest diverges from signed envelope despite matching root hash")
	}
	observe(collector, expectedDomain, result)
	return result
}

// DetectTamperedFiles re-canonicalizes dir and compares its manifest
// against the signed envelope without performing signature verification.
func (SkillSigner) DetectTamperedFiles(dir string) (skillhash.TamperReport, error) {
	env, err := LoadEnvelope(dir)
	if err != nil {
		return skillhash.TamperReport{}, err
	}
	_, manifest, err := skillhash.Canonicalize(dir)
	if err != nil {
		return skillhash.TamperReport{}, err
	}
	return skillhash.DetectTampered(manifest, env.FileManifest), nil
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}
