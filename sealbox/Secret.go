package sealbox

import (
	"crypto/rand"
	"encoding/pem"

	"github.com/phayes/errors"
)

const (
	SecretPEMType = "SEALBOX SECRET"
	MinSecretSize = 32
)

var (
	ErrSecretInvalidPEM = errors.New("Could not decode Secret PEM Block")
	ErrSecretWrongType  = errors.New("Could not find " + SecretPEMType + " block")
	ErrSecretSize       = errors.Newf("Secret must be at least %d bytes", MinSecretSize)
	ErrSecretGenerate   = errors.New("Could not generate new Secret")
)

// A Secret is raw server-held key material: the pseudonymization secret or the master key
// used to wrap data keys.
type Secret []byte

// Create a new Secret from PEM Block bytes
func NewSecret(PEMBlockBytes []byte) (Secret, error) {
	PEMBlock, _ := pem.Decode(PEMBlockBytes)
	if PEMBlock == nil {
		return nil, ErrSecretInvalidPEM
	}
	return NewSecretFromBlock(PEMBlock)
}

// Create a new Secret from a pem.Block. Works with blocks returned by decryptpem.
func NewSecretFromBlock(PEMBlock *pem.Block) (Secret, error) {
	if PEMBlock.Type != SecretPEMType {
		return nil, errors.Wraps(ErrSecretWrongType, "Found "+PEMBlock.Type)
	}
	if len(PEMBlock.Bytes) < MinSecretSize {
		return nil, ErrSecretSize
	}
	return Secret(append([]byte(nil), PEMBlock.Bytes...)), nil
}

// Generate a new random Secret of the given size in bytes
func GenerateSecret(size int) (Secret, error) {
	if size < MinSecretSize {
		return nil, ErrSecretSize
	}
	secret := make([]byte, size)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.Wrap(ErrSecretGenerate, err)
	}
	return Secret(secret), nil
}

func (s Secret) Bytes() []byte {
	return []byte(s)
}

// PEM returns the PEM encoding of the secret, for writing key files
func (s Secret) PEM() string {
	pemBlock := pem.Block{
		Type:  SecretPEMType,
		Bytes: s.Bytes(),
	}
	return string(pem.EncodeToMemory(&pemBlock))
}

// Implements Stringer. Key material is never printed; use PEM to encode it.
func (s Secret) String() string {
	return SecretPEMType + " (redacted)"
}

// Implements fmt.GoStringer so %#v is redacted as well
func (s Secret) GoString() string {
	return "sealbox.Secret(redacted)"
}
