// ABOUTME: Tests for the authorized key allowlist
// ABOUTME: Covers parsing, naming, and lookup behavior

package auth

import (
	"strings"
	"testing"
)

func TestNewKeyring_NamesFromComments(t *testing.T) {
	_, pubkey1, line1 := generateTestKeyPair(t)
	_, _, line2 := generateTestKeyPair(t)

	ring, err := NewKeyring([]string{
		strings.TrimSpace(line1) + " alice@desk",
		strings.TrimSpace(line2) + " bob@laptop",
	})
	if err != nil {
		t.Fatalf("NewKeyring() error = %v", err)
	}
	if ring.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", ring.Len())
	}

	name, ok := ring.Lookup(ComputeFingerprint(pubkey1))
	if !ok {
		t.Fatal("Lookup() should find the first key")
	}
	if name != "alice@desk" {
		t.Errorf("name = %q, want alice@desk", name)
	}
}

func TestNewKeyring_CommentlessKeyGetsFingerprintName(t *testing.T) {
	_, pubkey, line := generateTestKeyPair(t)

	ring, err := NewKeyring([]string{line})
	if err != nil {
		t.Fatalf("NewKeyring() error = %v", err)
	}

	fp := ComputeFingerprint(pubkey)
	name, ok := ring.Lookup(fp)
	if !ok {
		t.Fatal("Lookup() should find the key")
	}
	if name != fp[:12] {
		t.Errorf("name = %q, want fingerprint prefix %q", name, fp[:12])
	}
}

func TestNewKeyring_SkipsBlanksAndComments(t *testing.T) {
	_, _, line := generateTestKeyPair(t)

	ring, err := NewKeyring([]string{"", "  ", "# a comment", line})
	if err != nil {
		t.Fatalf("NewKeyring() error = %v", err)
	}
	if ring.Len() != 1 {
		t.Errorf("Len() = %d, want 1", ring.Len())
	}
}

func TestNewKeyring_RejectsBadLine(t *testing.T) {
	if _, err := NewKeyring([]string{"definitely not a key"}); err == nil {
		t.Error("NewKeyring() should reject an unparseable line")
	}
}

func TestKeyring_LookupUnknown(t *testing.T) {
	ring, err := NewKeyring(nil)
	if err != nil {
		t.Fatalf("NewKeyring() error = %v", err)
	}
	if _, ok := ring.Lookup("nope"); ok {
		t.Error("Lookup() should miss on an empty ring")
	}
}
