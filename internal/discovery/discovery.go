// Package discovery defines the Discovery, RevocationDocument, and TrustBundle
// document shapes, together with their round-trip JSON forms and the
// combined revocation check.
package discovery

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Document is a publisher's well-known discovery document (schema_version
// 1.2+).
type Document struct {
	SchemaVersion      string   `json:"schema_version"`
	PublicKeyPEM       string   `json:"public_key_pem"`
	DeveloperName      string   `json:"developer_name,omitempty"`
	Contact            string   `json:"contact,omitempty"`
	RevokedKeys        []string `json:"revoked_keys,omitempty"`
	RevocationEndpoint string   `json:"revocation_endpoint,omitempty"`
}

// Validate checks the minimal structural requirements: schema_version and
// public_key_pem must both be present, and public_key_pem must carry the
// PUBLIC KEY PEM marker.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("discovery: document is nil")
	}
	if strings.TrimSpace(d.SchemaVersion) == "" {
		return fmt.Errorf("discovery: missing schema_version")
	}
	if strings.TrimSpace(d.PublicKeyPEM) == "" {
		return fmt.Errorf("discovery: missing public_key_pem")
	}
	if !strings.Contains(d.PublicKeyPEM, "BEGIN PUBLIC KEY") {
		return fmt.Errorf("discovery: public_key_pem is not a PUBLIC KEY PEM block")
	}
	return nil
}

// IsStaleVersion reports whether SchemaVersion predates "1.2", the minimum
// version this document shape targets. A stale version is a warning, not a
// validation failure.
func (d *Document) IsStaleVersion() bool {
	return compareVersions(d.SchemaVersion, "1.2") < 0
}

// RevocationReason is a closed set of reasons a key may be revoked.
type RevocationReason string

const (
	ReasonKeyCompromise         RevocationReason = "key_compromise"
	ReasonSuperseded            RevocationReason = "superseded"
	ReasonCessationOfOperation  RevocationReason = "cessation_of_operation"
	ReasonPrivilegeWithdrawn    RevocationReason = "privilege_withdrawn"
)

// Valid reports whether r is one of the four documented values.
func (r RevocationReason) Valid() bool {
	switch r {
	case ReasonKeyCompromise, ReasonSuperseded, ReasonCessationOfOperation, ReasonPrivilegeWithdrawn:
		return true
	default:
		return false
	}
}

// RevokedKey is one entry in a RevocationDocument.
type RevokedKey struct {
	Fingerprint string           `json:"fingerprint"`
	RevokedAt   string           `json:"revoked_at"`
	Reason      RevocationReason `json:"reason"`
}

// RevocationDocument is a standalone, domain-scoped revocation list.
type RevocationDocument struct {
	SchemapinVersion string       `json:"schemapin_version"`
	Domain           string       `json:"domain"`
	UpdatedAt        string       `json:"updated_at"`
	RevokedKeys      []RevokedKey `json:"revoked_keys"`
}

// BuildRevocationDocument creates an empty revocation document for domain,
// timestamped at now.
func BuildRevocationDocument(domain string, now time.Time) *RevocationDocument {
	return &RevocationDocument{
		SchemapinVersion: "1.3",
		Domain:           domain,
		UpdatedAt:        now.UTC().Format(time.RFC3339),
		RevokedKeys:      []RevokedKey{},
	}
}

// AddRevokedKey appends fingerprint to doc and refreshes UpdatedAt.
func AddRevokedKey(doc *RevocationDocument, fingerprint string, reason RevocationReason, now time.Time) error {
	if !reason.Valid() {
		return fmt.Errorf("discovery: unknown revocation reason %q", reason)
	}
	doc.RevokedKeys = append(doc.RevokedKeys, RevokedKey{
		Fingerprint: fingerprint,
		RevokedAt:   now.UTC().Format(time.RFC3339),
		Reason:      reason,
	})
	doc.UpdatedAt = now.UTC().Format(time.RFC3339)
	return nil
}

// CheckRevocation fails if fingerprint appears in doc's revoked list. A nil
// doc is never revoking.
func CheckRevocation(doc *RevocationDocument, fingerprint string) error {
	if doc == nil {
		return nil
	}
	for _, rk := range doc.RevokedKeys {
		if rk.Fingerprint == fingerprint {
			return fmt.Errorf("discovery: fingerprint %s is revoked (%s)", fingerprint, rk.Reason)
		}
	}
	return nil
}

// CheckRevocationCombined fails if fingerprint appears in either the simple
// list (typically discovery.RevokedKeys) or the standalone document. Both
// absent is a success.
func CheckRevocationCombined(simpleList []string, doc *RevocationDocument, fingerprint string) error {
	for _, fp := range simpleList {
		if fp == fingerprint {
			return fmt.Errorf("discovery: fingerprint %s is revoked", fingerprint)
		}
	}
	return CheckRevocation(doc, fingerprint)
}

// TrustBundle is an offline, multi-domain snapshot of discovery and
// revocation documents. Documents are stored flattened: each entry merges
// the Discovery fields with a sibling "domain" key.
type TrustBundle struct {
	SchemapinBundleVersion string                   `json:"schemapin_bundle_version"`
	CreatedAt              string                   `json:"created_at"`
	Documents              []map[string]any         `json:"documents"`
	Revocations            []RevocationDocument     `json:"revocations"`
}

// FindDiscovery returns the well-known fields for domain, without the
// "domain" key, or nil if absent.
func (b *TrustBundle) FindDiscovery(domain string) (*Document, bool) {
	for _, doc := range b.Documents {
		if d, _ := doc["domain"].(string); d == domain {
			return documentFromFlattened(doc), true
		}
	}
	return nil, false
}

// FindRevocation returns the revocation document for domain, or nil if absent.
func (b *TrustBundle) FindRevocation(domain string) (*RevocationDocument, bool) {
	for i := range b.Revocations {
		if b.Revocations[i].Domain == domain {
			rev := b.Revocations[i]
			return &rev, true
		}
	}
	return nil, false
}

// CreateBundledDiscovery flattens a well-known document's fields with domain
// at the same level, producing the shape TrustBundle.Documents expects.
func CreateBundledDiscovery(domain string, wellKnown *Document) (map[string]any, error) {
	raw, err := json.Marshal(wellKnown)
	if err != nil {
		return nil, fmt.Errorf("discovery: marshal well-known: %w", err)
	}
	var flattened map[string]any
	if err := json.Unmarshal(raw, &flattened); err != nil {
		return nil, fmt.Errorf("discovery: unmarshal well-known: %w", err)
	}
	flattened["domain"] = domain
	return flattened, nil
}

func documentFromFlattened(flattened map[string]any) *Document {
	stripped := make(map[string]any, len(flattened))
	for k, v := range flattened {
		if k == "domain" {
			continue
		}
		stripped[k] = v
	}
	raw, err := json.Marshal(stripped)
	if err != nil {
		return nil
	}
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil
	}
	return &d
}

// compareVersions compares two dotted version strings numerically,
// returning -1, 0, or 1. Non-numeric or short components are treated as 0.
func compareVersions(a, b string) int {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var na, nb int
		if i < len(pa) {
			na = atoiSafe(pa[i])
		}
		if i < len(pb) {
			nb = atoiSafe(pb[i])
		}
		if na != nb {
			if na < nb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
