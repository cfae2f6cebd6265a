package cryptox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/askarin/cryptboard/internal/common"
	"golang.org/x/crypto/argon2"
)

// WipingProvider is the client-side Provider. It operates on defensive
// copies of passphrase and key material and zeroes its temporaries before
// returning, so long-lived REPL sessions do not accumulate secrets on the
// heap. Wire output is byte-identical to StdProvider.
type WipingProvider struct{}

func NewWipingProvider() *WipingProvider {
	return &WipingProvider{}
}

func (p *WipingProvider) DeriveKey(passphrase, salt []byte) []byte {
	pass := append([]byte(nil), passphrase...)
	defer common.WipeByteArray(pass)
	return argon2.IDKey(pass, salt, 1, 64*1024, 4, KeySize)
}

func (p *WipingProvider) Fingerprint(passphrase []byte) string {
	key := p.DeriveKey(passphrase, fingerprintSalt)
	defer common.WipeByteArray(key)
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

func (p *WipingProvider) Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	k := append([]byte(nil), key...)
	defer common.WipeByteArray(k)

	aead, err := newGCM(k, iv)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, iv, plaintext, nil), nil
}

func (p *WipingProvider) Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	k := append([]byte(nil), key...)
	defer common.WipeByteArray(k)

	aead, err := newGCM(k, iv)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIntegrity, err)
	}
	return plaintext, nil
}
