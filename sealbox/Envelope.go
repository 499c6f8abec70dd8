package sealbox

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"reflect"

	"github.com/phayes/errors"
)

const (
	dataKeySize = 32 // AES-256
	nonceSize   = 12
	tagSize     = 16
)

// Sealed is the stored representation of an encrypted payload. Every field is an opaque string.
type Sealed struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	AuthTag    string `json:"authTag"`
	Key        string `json:"key"`
}

// Envelope seals structured payloads with AES-256-GCM under a fresh key per call.
type Envelope struct {
	Keys KeyWrapper
	Rand io.Reader
}

// NewEnvelope returns an Envelope that stores data keys using the given wrapper.
// A nil wrapper means PlainKeys.
func NewEnvelope(keys KeyWrapper) *Envelope {
	if keys == nil {
		keys = PlainKeys{}
	}
	return &Envelope{Keys: keys, Rand: rand.Reader}
}

// Seal serializes payload to JSON and encrypts it under a freshly generated key and nonce
func (env *Envelope) Seal(payload interface{}) (Sealed, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return Sealed{}, err
	}

	key := make([]byte, dataKeySize)
	if _, err := io.ReadFull(env.random(), key); err != nil {
		return Sealed{}, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(env.random(), nonce); err != nil {
		return Sealed{}, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return Sealed{}, err
	}
	out := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext, tag := out[:len(out)-tagSize], out[len(out)-tagSize:]

	storedKey, err := env.keys().WrapKey(key)
	if err != nil {
		return Sealed{}, err
	}

	return Sealed{
		Ciphertext: hex.EncodeToString(ciphertext),
		IV:         hex.EncodeToString(nonce),
		AuthTag:    hex.EncodeToString(tag),
		Key:        storedKey,
	}, nil
}

// Open authenticates and decrypts sealed, then decodes the plaintext into out.
// out is reset to its zero value first, so nothing from an earlier decode survives.
// Returns ErrIntegrity if the record does not authenticate and ErrFormat if the plaintext
// is not the shape of out.
func (env *Envelope) Open(sealed Sealed, out interface{}) error {
	ciphertext, err := hex.DecodeString(sealed.Ciphertext)
	if err != nil {
		return errors.Wraps(ErrIntegrity, "ciphertext is not hex encoded")
	}
	nonce, err := hex.DecodeString(sealed.IV)
	if err != nil || len(nonce) != nonceSize {
		return errors.Wraps(ErrIntegrity, "invalid iv")
	}
	tag, err := hex.DecodeString(sealed.AuthTag)
	if err != nil || len(tag) != tagSize {
		return errors.Wraps(ErrIntegrity, "invalid auth tag")
	}
	key, err := env.keys().UnwrapKey(sealed.Key)
	if err != nil {
		return errors.Wrap(ErrIntegrity, err)
	}
	if len(key) != dataKeySize {
		return errors.Wraps(ErrIntegrity, "invalid key size")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return errors.Wrap(ErrIntegrity, err)
	}
	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return errors.Wrap(ErrIntegrity, err)
	}

	if rv := reflect.ValueOf(out); rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
	}
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return errors.Wrap(ErrFormat, err)
	}
	if dec.More() {
		return errors.Wraps(ErrFormat, "trailing data after payload")
	}
	if v, ok := out.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return errors.Wrap(ErrFormat, err)
		}
	}
	return nil
}

func (env *Envelope) random() io.Reader {
	if env.Rand == nil {
		return rand.Reader
	}
	return env.Rand
}

func (env *Envelope) keys() KeyWrapper {
	if env.Keys == nil {
		return PlainKeys{}
	}
	return env.Keys
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
