package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// scryptKeyLen is the derived key length in bytes.
	scryptKeyLen = 32

	// gcmNonceLen is the AES-GCM nonce length in bytes.
	gcmNonceLen = 12
)

// encMagic prefixes encrypted credential files so Load can distinguish
// them from plaintext JSON (which always starts with '{').
var encMagic = []byte("USDMENC1")

// deriveFileKey derives a 32-byte encryption key from the passphrase and
// per-entry salt using scrypt. Both inputs are normalized to NFKC before
// hashing so visually identical passphrases derive identical keys.
func deriveFileKey(passphrase, salt string) ([]byte, error) {
	passphrase = norm.NFKC.String(passphrase)
	salt = norm.NFKC.String(salt)

	key, err := scrypt.Key([]byte(passphrase), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}

// zeroKey overwrites the key material in the given slice. Called
// immediately after the key has been handed to the cipher to limit the
// window during which raw key bytes are accessible in memory.
func zeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return gcm, nil
}

// seal encrypts plaintext with AES-256-GCM under a key derived from the
// passphrase and salt. Output format: encMagic || [12-byte nonce][ciphertext+tag].
func seal(passphrase, salt string, plaintext []byte) ([]byte, error) {
	key, err := deriveFileKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	zeroKey(key)

	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcmNonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, len(encMagic)+gcmNonceLen+len(plaintext)+gcm.Overhead())
	out = append(out, encMagic...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)

	return out, nil
}

// open decrypts data produced by seal. Any structural or authentication
// failure is returned as an error; the store treats it as a cache miss.
func open(passphrase, salt string, data []byte) ([]byte, error) {
	if len(data) < len(encMagic)+gcmNonceLen {
		return nil, fmt.Errorf("encrypted entry too short")
	}

	data = data[len(encMagic):]
	nonce, ciphertext := data[:gcmNonceLen], data[gcmNonceLen:]

	key, err := deriveFileKey(passphrase, salt)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	zeroKey(key)

	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting entry: %w", err)
	}

	return plaintext, nil
}

// isEncrypted reports whether a credential file carries the encryption
// magic prefix.
func isEncrypted(data []byte) bool {
	return len(data) >= len(encMagic) && string(data[:len(encMagic)]) == string(encMagic)
}
