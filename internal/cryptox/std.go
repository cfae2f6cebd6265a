package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/askarin/cryptboard/internal/common"
	"golang.org/x/crypto/argon2"
)

// StdProvider is the server-side Provider. It works on caller buffers
// directly and leaves wiping to the garbage collector.
type StdProvider struct{}

func NewStdProvider() *StdProvider {
	return &StdProvider{}
}

func (p *StdProvider) DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, KeySize)
}

func (p *StdProvider) Fingerprint(passphrase []byte) string {
	key := p.DeriveKey(passphrase, fingerprintSalt)
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

func (p *StdProvider) Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key, iv)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

func (p *StdProvider) Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key, iv)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIntegrity, err)
	}
	return plaintext, nil
}

func newGCM(key, iv []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", IVSize, len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
