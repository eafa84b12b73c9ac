// Package secret seals repository access tokens before they are persisted.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var (
	// ErrOpen is returned when a sealed value cannot be authenticated.
	ErrOpen = errors.New("secret: unable to open sealed value")
	// ErrNoKey is returned when a nil Box is asked to seal or open a non-empty value.
	ErrNoKey = errors.New("secret: no key configured")
)

// Box seals and opens small secrets with a single symmetric key.
// A nil *Box handles only empty values.
type Box struct {
	key [32]byte
}

// NewBox parses a 32-byte key given as hex or standard base64.
func NewBox(encodedKey string) (*Box, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	raw, err := hex.DecodeString(encodedKey)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(encodedKey)
		if err != nil {
			return nil, fmt.Errorf("secret: key is neither hex nor base64")
		}
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("secret: key must be 32 bytes, got %d", len(raw))
	}
	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

// Seal encrypts plaintext. An empty plaintext seals to nil.
func (b *Box) Seal(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	if b == nil {
		return nil, ErrNoKey
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("secret: read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &b.key), nil
}

// Open reverses Seal. A nil or empty value opens to "".
func (b *Box) Open(sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	if b == nil {
		return "", ErrNoKey
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrOpen
	}
	return string(plain), nil
}
