package runtime

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Encryption names the AEAD algorithm bound to a connection. The wire value
// is the single byte at the front of a set_key payload.
type Encryption uint8

const (
	// Aes selects AES-256-GCM, the module long-term key's algorithm and the
	// only backend the original protocol requires.
	Aes Encryption = 0
	// ChaCha20Poly1305 selects an alternative AEAD backend for session keys
	// (never for the long-term key), for peers that prefer to avoid AES.
	ChaCha20Poly1305 Encryption = 1
)

func (e Encryption) String() string {
	switch e {
	case Aes:
		return "Aes"
	case ChaCha20Poly1305:
		return "ChaCha20Poly1305"
	default:
		return fmt.Sprintf("Encryption(%d)", uint8(e))
	}
}

func newAEAD(enc Encryption, key []byte) (cipher.AEAD, error) {
	switch enc {
	case Aes:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("unknown encryption algorithm %d", uint8(enc))
	}
}

// nonceBytes expands a 16-bit connection nonce into the algorithm's native
// nonce size, left-padded with zeros. The protocol nonce is always 16 bits
// wide (§9, "nonce width of 16 bits is a protocol constant"); the AEAD's
// wider nonce is derived from it deterministically.
func nonceBytes(aead cipher.AEAD, nonce uint16) []byte {
	b := make([]byte, aead.NonceSize())
	binary.BigEndian.PutUint16(b[len(b)-2:], nonce)
	return b
}

// seal encrypts plaintext under key using enc and nonce, with ad as
// associated data. It never mutates plaintext.
func seal(enc Encryption, key []byte, nonce uint16, ad, plaintext []byte) ([]byte, error) {
	aead, err := newAEAD(enc, key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonceBytes(aead, nonce), plaintext, ad), nil
}

// open decrypts ciphertext under key using enc and nonce, with ad as
// associated data.
func open(enc Encryption, key []byte, nonce uint16, ad, ciphertext []byte) ([]byte, error) {
	aead, err := newAEAD(enc, key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonceBytes(aead, nonce), ciphertext, ad)
}
