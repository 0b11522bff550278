// ABOUTME: Allowlist of operator public keys from the daemon config
// ABOUTME: Maps key fingerprints to operator names for key-signature auth

package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Keyring holds the authorized operator keys. A request signed by a key
// outside the ring is rejected even when the signature itself verifies.
type Keyring struct {
	names map[string]string // fingerprint → operator name
}

// NewKeyring parses authorized_keys-format lines into a keyring. The key
// comment becomes the operator name; comment-less keys are named by a
// fingerprint prefix.
func NewKeyring(lines []string) (*Keyring, error) {
	k := &Keyring{names: make(map[string]string)}
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pubkey, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("parsing authorized key %d: %w", i+1, err)
		}
		fp := ComputeFingerprint(pubkey)
		name := strings.TrimSpace(comment)
		if name == "" {
			name = fp[:12]
		}
		k.names[fp] = name
	}
	return k, nil
}

// Lookup returns the operator name for a fingerprint.
func (k *Keyring) Lookup(fingerprint string) (string, bool) {
	name, ok := k.names[fingerprint]
	return name, ok
}

// Len returns the number of authorized keys.
func (k *Keyring) Len() int {
	return len(k.names)
}
