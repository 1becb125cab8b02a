package volume

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// keySize is the AES-256 key length in bytes; two are derived from the
// passphrase, one for encryption and one for the HMAC.
const keySize = 32

// deriveKeys expands passphrase into an encryption key and a MAC key via
// HKDF-SHA256, salted with salt (spec.md Open Question: "AES-256-CTR +
// HMAC-SHA256 encrypt-then-MAC", see DESIGN.md).
func deriveKeys(passphrase string, salt []byte) (encKey, macKey []byte, err error) {
	kdf := hkdf.New(sha256.New, []byte(passphrase), salt, []byte("coldvault-volume-v1"))
	combined := make([]byte, 2*keySize)
	if _, err := io.ReadFull(kdf, combined); err != nil {
		return nil, nil, fmt.Errorf("volume: derive keys: %w", err)
	}
	return combined[:keySize], combined[keySize:], nil
}

const saltSize = 16

// encrypt wraps plaintext as salt || iv || ciphertext || hmac, using
// AES-256-CTR for confidentiality and HMAC-SHA256 over (iv || ciphertext)
// for integrity (encrypt-then-MAC).
func encrypt(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("volume: generate salt: %w", err)
	}
	encKey, macKey, err := deriveKeys(passphrase, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("volume: create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("volume: generate iv: %w", err)
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	mac := hmac.New(sha256.New, macKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	tag := mac.Sum(nil)

	out := make([]byte, 0, saltSize+len(iv)+len(ciphertext)+len(tag))
	out = append(out, salt...)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	out = append(out, tag...)
	return out, nil
}

// decrypt reverses encrypt, returning ErrAuthenticationFailed if the
// HMAC tag does not verify.
func decrypt(passphrase string, sealed []byte) ([]byte, error) {
	if len(sealed) < saltSize+aes.BlockSize+sha256.Size {
		return nil, fmt.Errorf("volume: sealed container too short")
	}

	salt := sealed[:saltSize]
	rest := sealed[saltSize:]
	tag := rest[len(rest)-sha256.Size:]
	iv := rest[:aes.BlockSize]
	ciphertext := rest[aes.BlockSize : len(rest)-sha256.Size]

	_, macKey, err := deriveKeys(passphrase, salt)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, macKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, tag) {
		return nil, ErrAuthenticationFailed
	}

	encKey, _, err := deriveKeys(passphrase, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("volume: create cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}
