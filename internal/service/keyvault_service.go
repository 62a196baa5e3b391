package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// AESKeyVault implements ports.KeyVault using AES-256-GCM.
// The encrypted blob layout is nonce || authTag || ciphertext, hex-encoded.
// The master key lives only in process configuration, never next to the
// ciphertext it protects.
type AESKeyVault struct {
	masterKey []byte // 32-byte key for AES-256
}

// NewAESKeyVault creates a new AES-256-GCM key vault.
// hexKey must be a 64-character hex string (32 bytes decoded).
func NewAESKeyVault(hexKey string) (*AESKeyVault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(key))
	}
	return &AESKeyVault{masterKey: key}, nil
}

// Encrypt seals a plaintext private key with a fresh random nonce.
func (v *AESKeyVault) Encrypt(plaintext []byte) (string, error) {
	aesGCM, err := v.newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aesGCM.Seal(nil, nonce, plaintext, nil)

	// Seal returns ciphertext || tag; the stored layout is nonce || tag || ciphertext.
	tagStart := len(sealed) - aesGCM.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	blob := make([]byte, 0, len(nonce)+len(tag)+len(ciphertext))
	blob = append(blob, nonce...)
	blob = append(blob, tag...)
	blob = append(blob, ciphertext...)
	return hex.EncodeToString(blob), nil
}

// Decrypt opens a vault blob. It fails closed: any authentication failure
// (tampered ciphertext, wrong master key) returns an error and never partial
// plaintext.
func (v *AESKeyVault) Decrypt(blobHex string) ([]byte, error) {
	blob, err := hex.DecodeString(blobHex)
	if err != nil {
		return nil, fmt.Errorf("decoding blob: %w", err)
	}

	aesGCM, err := v.newGCM()
	if err != nil {
		return nil, err
	}

	nonceSize := aesGCM.NonceSize()
	tagSize := aesGCM.Overhead()
	if len(blob) < nonceSize+tagSize {
		return nil, fmt.Errorf("blob too short")
	}

	nonce := blob[:nonceSize]
	tag := blob[nonceSize : nonceSize+tagSize]
	ciphertext := blob[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aesGCM.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("opening blob: %w", err)
	}
	return plaintext, nil
}

func (v *AESKeyVault) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.masterKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aesGCM, nil
}
