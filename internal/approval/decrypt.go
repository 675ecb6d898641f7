package approval

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/nacl/box"

	"github.com/VenkatGGG/shopping-agent/internal/payment"
)

var (
	ErrNoPrivateKey = errors.New("PAYFILL_PRIVATE_KEY is not set")
	ErrDecrypt      = errors.New("payment method decryption failed")
)

// EncryptedPaymentMethod is a NaCl box sealed to our public key with a
// one-time sender key. Every field is base64url.
type EncryptedPaymentMethod struct {
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	Nonce              string `json:"nonce"`
	Ciphertext         string `json:"ciphertext"`
}

// Decrypt opens enc with the recipient's private key and decodes the card.
// The plaintext buffer is wiped before returning.
func Decrypt(privateKeyB64 string, enc EncryptedPaymentMethod) (*payment.Method, error) {
	if strings.TrimSpace(privateKeyB64) == "" {
		return nil, ErrNoPrivateKey
	}
	privateKey, err := decodeKey(privateKeyB64, "private key")
	if err != nil {
		return nil, err
	}
	defer wipe(privateKey[:])
	senderKey, err := decodeKey(enc.EphemeralPublicKey, "ephemeral public key")
	if err != nil {
		return nil, err
	}

	rawNonce, err := decodeBase64URL(enc.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(rawNonce) != 24 {
		return nil, fmt.Errorf("nonce must be 24 bytes, got %d", len(rawNonce))
	}
	var nonce [24]byte
	copy(nonce[:], rawNonce)

	ciphertext, err := decodeBase64URL(enc.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, ok := box.Open(nil, ciphertext, &nonce, &senderKey, &privateKey)
	if !ok {
		return nil, ErrDecrypt
	}
	defer wipe(plaintext)

	return payment.Decode(plaintext)
}

func decodeKey(value, what string) ([32]byte, error) {
	var key [32]byte
	raw, err := decodeBase64URL(value)
	if err != nil {
		return key, fmt.Errorf("decode %s: %w", what, err)
	}
	if len(raw) != len(key) {
		return key, fmt.Errorf("%s must be 32 bytes, got %d", what, len(raw))
	}
	copy(key[:], raw)
	wipe(raw)
	return key, nil
}

// decodeBase64URL accepts base64url with or without padding, and tolerates
// the standard alphabet.
func decodeBase64URL(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	value = strings.NewReplacer("+", "-", "/", "_").Replace(value)
	value = strings.TrimRight(value, "=")
	return base64.RawURLEncoding.DecodeString(value)
}

func wipe(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
