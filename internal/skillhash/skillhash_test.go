package skillhash

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, contents string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(contents), 0o644))
}

func TestCanonicalize_DeterministicAcrossLayouts(t *testing.T) {
	dirA := t.TempDir()
	writeFile(t, dirA, "SKILL.md", "# hello")
	writeFile(t, dirA, "nested/a.txt", "aaa")

	dirB := t.TempDir()
	writeFile(t, dirB, "nested/a.txt", "aaa")
	writeFile(t, dirB, "SKILL.md", "# hello")

	hashA, manA, err := Canonicalize(dirA)
	require.NoError(t, err)
	hashB, manB, err := Canonicalize(dirB)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
	assert.Equal(t, manA, manB)
}

func TestCanonicalize_ExcludesSignatureFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "SKILL.md", "# hello")
	base, _, err := Canonicalize(dir)
	require.NoError(t, err)

	writeFile(t, dir, SignatureFilename, `{"signature":"x"}`)
	withSig, _, err := Canonicalize(dir)
	require.NoError(t, err)

	assert.Equal(t, base, withSig)
}

func TestCanonicalize_ExcludesSymlinks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "SKILL.md", "# hello")
	base, _, err := Canonicalize(dir)
	require.NoError(t, err)

	target := filepath.Join(dir, "SKILL.md")
	link := filepath.Join(dir, "link.md")
	require.NoError(t, os.Symlink(target, link))

	withLink, _, err := Canonicalize(dir)
	require.NoError(t, err)
	assert.Equal(t, base, withLink)
}

func TestCanonicalize_ContentEditChangesHash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "SKILL.md", "# original")
	before, _, err := Canonicalize(dir)
	require.NoError(t, err)

	writeFile(t, dir, "SKILL.md", "# TAMPERED")
	after, _, err := Canonicalize(dir)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
}

func TestCanonicalize_AddOrRemoveChangesHash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "SKILL.md", "# hello")
	before, _, err := Canonicalize(dir)
	require.NoError(t, err)

	writeFile(t, dir, "extra.txt", "extra")
	after, _, err := Canonicalize(dir)
	require.NoError(t, err)

	assert.NotEqual(t, before, after)

	require.NoError(t, os.Remove(filepath.Join(dir, "extra.txt")))
	restored, _, err := Canonicalize(dir)
	require.NoError(t, err)
	assert.Equal(t, before, restored)
}

func TestCanonicalize_EmptyTreeIsError(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Canonicalize(dir)
	require.ErrorIs(t, err, ErrEmptyTree)
}

func TestDetectTampered(t *testing.T) {
	signed := Manifest{
		"SKILL.md": "sha256:aaa",
		"keep.txt": "sha256:bbb",
		"gone.txt": "sha256:ccc",
	}
	current := Manifest{
		"SKILL.md": "sha256:changed",
		"keep.txt": "sha256:bbb",
		"new.txt":  "sha256:ddd",
	}

	report := DetectTampered(current, signed)
	assert.Equal(t, []string{"SKILL.md"}, report.Modified)
	assert.Equal(t, []string{"new.txt"}, report.Added)
	assert.Equal(t, []string{"gone.txt"}, report.Removed)
}
