package sealbox

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"

	"github.com/phayes/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const wrappedKeyPrefix = "w1:"

var (
	ErrMasterKeySize = errors.Newf("Master key must be exactly %d bytes", chacha20poly1305.KeySize)
	ErrKeyUnwrap     = errors.New("Could not unwrap data key")
)

// A KeyWrapper decides how a per-record data key is stored next to its ciphertext.
type KeyWrapper interface {
	WrapKey(dataKey []byte) (string, error)
	UnwrapKey(stored string) ([]byte, error)
}

// PlainKeys stores the data key as plain hex alongside the ciphertext.
// Anyone with read access to the store can open the record; the envelope then only
// provides tamper-evidence. Kept for storage compatibility with existing deployments.
type PlainKeys struct{}

func (PlainKeys) WrapKey(dataKey []byte) (string, error) {
	return hex.EncodeToString(dataKey), nil
}

func (PlainKeys) UnwrapKey(stored string) ([]byte, error) {
	if strings.HasPrefix(stored, wrappedKeyPrefix) {
		return nil, errors.Wraps(ErrKeyUnwrap, "key is wrapped but no master key is configured")
	}
	key, err := hex.DecodeString(stored)
	if err != nil {
		return nil, errors.Wrap(ErrKeyUnwrap, err)
	}
	return key, nil
}

// MasterKeyWrapper seals every data key with XChaCha20-Poly1305 under a master key that
// is held outside the store.
type MasterKeyWrapper struct {
	master []byte
	rand   io.Reader

	// AllowPlain lets UnwrapKey accept keys written before a master key was configured
	AllowPlain bool
}

func NewMasterKeyWrapper(masterKey []byte) (*MasterKeyWrapper, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, ErrMasterKeySize
	}
	return &MasterKeyWrapper{master: append([]byte(nil), masterKey...), rand: rand.Reader}, nil
}

func (w *MasterKeyWrapper) WrapKey(dataKey []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(w.master)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(dataKey)+aead.Overhead())
	if _, err := io.ReadFull(w.rand, nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, dataKey, []byte(wrappedKeyPrefix))
	return wrappedKeyPrefix + hex.EncodeToString(sealed), nil
}

func (w *MasterKeyWrapper) UnwrapKey(stored string) ([]byte, error) {
	if !strings.HasPrefix(stored, wrappedKeyPrefix) {
		if w.AllowPlain {
			return PlainKeys{}.UnwrapKey(stored)
		}
		return nil, errors.Wraps(ErrKeyUnwrap, "key is not wrapped")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(stored, wrappedKeyPrefix))
	if err != nil {
		return nil, errors.Wrap(ErrKeyUnwrap, err)
	}
	aead, err := chacha20poly1305.NewX(w.master)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.Wraps(ErrKeyUnwrap, "wrapped key too short")
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	key, err := aead.Open(nil, nonce, sealed, []byte(wrappedKeyPrefix))
	if err != nil {
		return nil, errors.Wrap(ErrKeyUnwrap, err)
	}
	return key, nil
}
