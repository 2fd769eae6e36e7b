package keys

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length of both halves of a keypair.
const KeySize = 32

var (
	// ErrInvalidPublicKey is returned when an exported key cannot be imported.
	ErrInvalidPublicKey = errors.New("keys: invalid public key")
	// ErrDecrypt is returned when a ciphertext does not open under a keypair.
	ErrDecrypt = errors.New("keys: decryption failed")
)

// PublicKey is an imported public half.
type PublicKey [KeySize]byte

// KeyPair is the key material of one session.
type KeyPair struct {
	public  *[KeySize]byte
	private *[KeySize]byte
}

// Generate returns a fresh keypair read from r, or crypto/rand when r is nil.
func Generate(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return &KeyPair{public: pub, private: priv}, nil
}

// ExportPublic encodes the public half. It never touches the private half.
func (k *KeyPair) ExportPublic() string {
	return base64.StdEncoding.EncodeToString(k.public[:])
}

// Open decrypts a ciphertext produced by Seal for this keypair.
func (k *KeyPair) Open(ciphertext []byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, ciphertext, k.public, k.private)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}

// Wipe zeroes the private half. The pair can no longer Open after this.
func (k *KeyPair) Wipe() {
	for i := range k.private {
		k.private[i] = 0
	}
}

// ImportPublic parses a key produced by ExportPublic.
func ImportPublic(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(b) != KeySize {
		return pk, fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// Seal encrypts plaintext to pk under a one-shot ephemeral keypair.
func Seal(pk PublicKey, plaintext []byte) ([]byte, error) {
	key := [KeySize]byte(pk)
	out, err := box.SealAnonymous(nil, plaintext, &key, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: seal: %w", err)
	}
	return out, nil
}
