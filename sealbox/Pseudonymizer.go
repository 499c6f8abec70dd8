package sealbox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

const (
	blindInfo            = "sealbox blinded voter id v1"
	verificationCodeTag  = "sealbox verification code v1\x00"
	verificationCodeBits = 50
)

// Pseudonymizer derives stable per-election pseudonyms for voters from a server secret
type Pseudonymizer struct {
	secret []byte
}

// NewPseudonymizer returns a Pseudonymizer keyed by secret, which must be at least
// MinSecretSize bytes.
func NewPseudonymizer(secret Secret) (*Pseudonymizer, error) {
	if len(secret) < MinSecretSize {
		return nil, ErrSecretSize
	}
	return &Pseudonymizer{secret: append([]byte(nil), secret...)}, nil
}

// Blind returns the pseudonym of voterID within electionID, as lowercase hex.
// The same voter gets unrelated pseudonyms in different elections.
func (p *Pseudonymizer) Blind(voterID, electionID string) string {
	mac := hmac.New(sha256.New, p.electionKey(electionID))
	mac.Write([]byte(voterID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *Pseudonymizer) electionKey(electionID string) []byte {
	key := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, p.secret, []byte(electionID), []byte(blindInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		// hkdf only fails after 255 blocks of output
		panic(err)
	}
	return key
}

// VerificationCode is a short human-checkable code derived from a vote token.
// It is not keyed, so anyone holding the published token list can recompute it.
func VerificationCode(voteToken string) string {
	h := sha3.New256()
	h.Write([]byte(verificationCodeTag))
	h.Write([]byte(voteToken))
	sum := h.Sum(nil)

	// first 10 base32 chars of 7 bytes = the leading 50 bits
	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:7])
	code := encoded[:verificationCodeBits/5]
	return code[:5] + "-" + code[5:]
}

// VerificationCode is the same as the package-level VerificationCode
func (p *Pseudonymizer) VerificationCode(voteToken string) string {
	return VerificationCode(voteToken)
}
