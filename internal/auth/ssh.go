// ABOUTME: SSH key signature authentication for operator requests
// ABOUTME: Verifies signatures over timestamp|nonce with replay protection

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/2389/familiar/internal/dedupe"
)

const (
	// SignatureMaxAge is the maximum age of a signed request.
	SignatureMaxAge = 5 * time.Minute

	// NonceCacheSize bounds the replay-protection cache.
	NonceCacheSize = 10000

	// HTTP headers carrying key-signature auth.
	HeaderPubkey    = "X-Familiar-Pubkey"
	HeaderSignature = "X-Familiar-Signature"
	HeaderTimestamp = "X-Familiar-Timestamp"
	HeaderNonce     = "X-Familiar-Nonce"
)

// SignedRequest is the key-signature auth material carried on a request.
type SignedRequest struct {
	Pubkey    string // full public key, authorized_keys format
	Signature string // base64 SSH signature over "timestamp|nonce"
	Timestamp int64  // unix seconds
	Nonce     string // random string, single use
}

// Apply sets the auth headers on an outgoing request.
func (r *SignedRequest) Apply(h http.Header) {
	h.Set(HeaderPubkey, r.Pubkey)
	h.Set(HeaderSignature, r.Signature)
	h.Set(HeaderTimestamp, strconv.FormatInt(r.Timestamp, 10))
	h.Set(HeaderNonce, r.Nonce)
}

// Sign produces a SignedRequest for the current time using the given signer.
// The admin CLI uses this to authenticate against the ops API.
func Sign(signer ssh.Signer) (*SignedRequest, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	nonce := hex.EncodeToString(nonceBytes)

	timestamp := time.Now().Unix()
	message := fmt.Sprintf("%d|%s", timestamp, nonce)

	sig, err := signer.Sign(rand.Reader, []byte(message))
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}

	return &SignedRequest{
		Pubkey:    strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))),
		Signature: base64.StdEncoding.EncodeToString(ssh.Marshal(sig)),
		Timestamp: timestamp,
		Nonce:     nonce,
	}, nil
}

// SSHVerifier verifies key signatures on operator requests.
type SSHVerifier struct {
	maxAge time.Duration
	nonces *dedupe.Cache
}

// NewSSHVerifier creates a verifier with nonce replay protection.
func NewSSHVerifier() *SSHVerifier {
	return &SSHVerifier{
		maxAge: SignatureMaxAge,
		nonces: dedupe.New(SignatureMaxAge, NonceCacheSize),
	}
}

// Close releases the nonce cache.
func (v *SSHVerifier) Close() {
	if v.nonces != nil {
		v.nonces.Close()
	}
}

// Verify checks the signature and returns the key fingerprint if valid.
// The signature must cover the string "timestamp|nonce". A nonce is accepted
// at most once inside the timestamp window.
func (v *SSHVerifier) Verify(req *SignedRequest) (fingerprint string, err error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(req.Pubkey))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}

	signedAt := time.Unix(req.Timestamp, 0)
	age := time.Since(signedAt)
	if age < 0 {
		// Allow a little clock skew but not more
		if age < -time.Minute {
			return "", errors.New("timestamp is in the future")
		}
	} else if age > v.maxAge {
		return "", fmt.Errorf("signature expired (age: %v, max: %v)", age, v.maxAge)
	}

	message := fmt.Sprintf("%d|%s", req.Timestamp, req.Nonce)

	sigBytes, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}

	sig := new(ssh.Signature)
	if err := ssh.Unmarshal(sigBytes, sig); err != nil {
		return "", fmt.Errorf("invalid signature format: %w", err)
	}

	if err := pubkey.Verify([]byte(message), sig); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	// The nonce key includes the fingerprint so one key cannot burn another
	// key's nonces. CheckAndMark is atomic; two requests with the same nonce
	// cannot both pass.
	fp := ComputeFingerprint(pubkey)
	nonceKey := fmt.Sprintf("%s:%d:%s", fp, req.Timestamp, req.Nonce)
	if v.nonces.CheckAndMark(nonceKey) {
		return "", errors.New("nonce already used (possible replay)")
	}

	return fp, nil
}

// ComputeFingerprint computes the SHA256 fingerprint of a public key as
// lowercase hex without colons.
func ComputeFingerprint(pubkey ssh.PublicKey) string {
	hash := sha256.Sum256(pubkey.Marshal())
	return hex.EncodeToString(hash[:])
}

// ParseFingerprintFromKey parses an authorized_keys line and returns the
// key's fingerprint.
func ParseFingerprintFromKey(pubkeyStr string) (string, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyStr))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return ComputeFingerprint(pubkey), nil
}

// ExtractSignedRequest pulls key-signature auth fields from request headers.
// Returns nil when none of the auth headers are present.
func ExtractSignedRequest(h http.Header) *SignedRequest {
	pubkey := h.Get(HeaderPubkey)
	signature := h.Get(HeaderSignature)
	timestampStr := h.Get(HeaderTimestamp)
	nonce := h.Get(HeaderNonce)

	// Any one header present means the caller attempted key auth
	if pubkey == "" && signature == "" && timestampStr == "" && nonce == "" {
		return nil
	}

	timestamp, _ := strconv.ParseInt(timestampStr, 10, 64)

	return &SignedRequest{
		Pubkey:    strings.TrimSpace(pubkey),
		Signature: strings.TrimSpace(signature),
		Timestamp: timestamp,
		Nonce:     strings.TrimSpace(nonce),
	}
}
