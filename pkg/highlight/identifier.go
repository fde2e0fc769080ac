package highlight

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyIterations = 100000
	keyLength     = 32
	nonceLength   = 12
)

type identifierPayload struct {
	UserID     string `json:"userId"`
	ClientUUID string `json:"clientUUID"`
	APIKey     string `json:"apiKey"`
}

// Identifier builds the opaque correlation token the chat backend expects in
// its "identifier" header: hex(nonce) ":" hex(iv) ":" hex(ciphertext). The
// nonce makes repeated encryptions of the same identity distinct; it carries
// no cryptographic weight beyond that.
func Identifier(userID, clientUUID string) (string, error) {
	return identifierWithIV(userID, clientUUID, nil)
}

func identifierWithIV(userID, clientUUID string, iv []byte) (string, error) {
	inner, err := encryptIdentity(userID, clientUUID, iv)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("identifier nonce: %w", err)
	}
	return hex.EncodeToString(nonce) + ":" + inner, nil
}

// encryptIdentity derives the per-user key and AES-256-CBC encrypts the
// identity payload (including the embedded service credential). Output is
// hex(iv) ":" hex(ciphertext).
func encryptIdentity(userID, clientUUID string, iv []byte) (string, error) {
	key := deriveUserKey(userID)
	if iv == nil {
		iv = make([]byte, aes.BlockSize)
		if _, err := rand.Read(iv); err != nil {
			return "", fmt.Errorf("identifier iv: %w", err)
		}
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("identifier iv must be %d bytes, got %d", aes.BlockSize, len(iv))
	}
	plaintext, err := json.Marshal(identifierPayload{
		UserID:     userID,
		ClientUUID: clientUUID,
		APIKey:     serviceAPIKey,
	})
	if err != nil {
		return "", fmt.Errorf("encode identifier payload: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("identifier cipher: %w", err)
	}
	padded := padPKCS7(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

func deriveUserKey(userID string) []byte {
	return pbkdf2.Key([]byte(userID), []byte(derivationSalt), keyIterations, keyLength, sha256.New)
}

// decryptIdentity reverses encryptIdentity for the inner "iv:ciphertext"
// layer. The backend owns the real decryption path; this exists so the codec
// round-trip stays verifiable.
func decryptIdentity(userID, encoded string) (identifierPayload, error) {
	var out identifierPayload
	parts := strings.SplitN(encoded, ":", 2)
	if len(parts) != 2 {
		return out, fmt.Errorf("identifier: expected iv:ciphertext, got %d part(s)", len(parts))
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return out, fmt.Errorf("identifier: bad iv")
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return out, fmt.Errorf("identifier: bad ciphertext")
	}
	block, err := aes.NewCipher(deriveUserKey(userID))
	if err != nil {
		return out, fmt.Errorf("identifier cipher: %w", err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	plaintext, err = unpadPKCS7(plaintext, aes.BlockSize)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return out, fmt.Errorf("decode identifier payload: %w", err)
	}
	return out, nil
}

func padPKCS7(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func unpadPKCS7(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, fmt.Errorf("identifier: bad padded length %d", len(b))
	}
	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(b) {
		return nil, fmt.Errorf("identifier: bad padding")
	}
	for _, p := range b[len(b)-padLen:] {
		if int(p) != padLen {
			return nil, fmt.Errorf("identifier: bad padding")
		}
	}
	return b[:len(b)-padLen], nil
}
