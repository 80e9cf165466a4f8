package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemapin-go/internal/discovery"
)

const samplePubKeyPEM = "-----BEGIN PUBLIC KEY-----\nMFkw\n-----END PUBLIC KEY-----\n"

func TestLocalFileResolver_ResolveDiscovery(t *testing.T) {
	dir := t.TempDir()
	doc := discovery.Document{SchemaVersion: "1.2", PublicKeyPEM: samplePubKeyPEM, DeveloperName: "Test Dev"}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "example.com.json"), raw, 0o644))

	r := &LocalFileResolver{DiscoveryDir: dir}
	got, err := r.ResolveDiscovery(context.Background(), "example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Test Dev", got.DeveloperName)

	miss, err := r.ResolveDiscovery(context.Background(), "missing.com")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestLocalFileResolver_ResolveRevocation(t *testing.T) {
	dir := t.TempDir()
	rev := discovery.RevocationDocument{SchemapinVersion: "1.3", Domain: "example.com"}
	raw, err := json.Marshal(rev)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "example.com.revocations.json"), raw, 0o644))

	r := &LocalFileResolver{DiscoveryDir: dir}
	got, err := r.ResolveRevocation(context.Background(), "example.com", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "example.com", got.Domain)
}

func TestTrustBundleResolver(t *testing.T) {
	entry, err := discovery.CreateBundledDiscovery("example.com", &discovery.Document{
		SchemaVersion: "1.2",
		PublicKeyPEM:  samplePubKeyPEM,
	})
	require.NoError(t, err)
	bundle := &discovery.TrustBundle{Documents: []map[string]any{entry}}

	r := &TrustBundleResolver{Bundle: bundle}
	got, err := r.ResolveDiscovery(context.Background(), "example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, samplePubKeyPEM, got.PublicKeyPEM)

	miss, err := r.ResolveDiscovery(context.Background(), "unknown.com")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

type stubResolver struct {
	doc *discovery.Document
	rev *discovery.RevocationDocument
}

func (s *stubResolver) ResolveDiscovery(context.Context, string) (*discovery.Document, error) {
	return s.doc, nil
}

func (s *stubResolver) ResolveRevocation(context.Context, string, *discovery.Document) (*discovery.RevocationDocument, error) {
	return s.rev, nil
}

func TestChainResolver_FirstNonNilWins(t *testing.T) {
	empty := &stubResolver{}
	withDoc := &stubResolver{doc: &discovery.Document{SchemaVersion: "1.2", PublicKeyPEM: samplePubKeyPEM}}
	withRev := &stubResolver{rev: &discovery.RevocationDocument{Domain: "example.com"}}

	chain := NewChainResolver(empty, withDoc, withRev)

	doc, err := chain.ResolveDiscovery(context.Background(), "example.com")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, samplePubKeyPEM, doc.PublicKeyPEM)

	rev, err := chain.ResolveRevocation(context.Background(), "example.com", doc)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, "example.com", rev.Domain)
}

func TestChainResolver_NoneMatch(t *testing.T) {
	chain := NewChainResolver(&stubResolver{}, &stubResolver{})
	doc, err := chain.ResolveDiscovery(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestWellKnownResolver_ConstructsURL(t *testing.T) {
	assert.Equal(t, "https://example.com/.well-known/schemapin.json", constructWellKnownURL("example.com"))
}

func TestWellKnownResolver_ResolveDiscovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(discovery.Document{
			SchemaVersion: "1.2",
			PublicKeyPEM:  samplePubKeyPEM,
		})
	}))
	defer srv.Close()

	w := NewWellKnownResolver()
	doc, err := fetchJSON[discovery.Document](context.Background(), w.client(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, samplePubKeyPEM, doc.PublicKeyPEM)
}

func TestWellKnownResolver_UnreachableIsNotFound(t *testing.T) {
	w := NewWellKnownResolver()
	doc, err := w.ResolveDiscovery(context.Background(), "invalid-domain-that-does-not-exist.test")
	require.NoError(t, err)
	assert.Nil(t, doc)
}
