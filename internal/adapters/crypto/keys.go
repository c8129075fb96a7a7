package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of private and public keys.
const KeySize = curve25519.ScalarSize

// EpochSize is the length of a session epoch.
const EpochSize = 16

var sessionKeyInfo = []byte("keylink session key")

// GenerateKey returns a new random private key.
func GenerateKey() ([]byte, error) {
	priv := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return priv, nil
}

// PublicKey returns the public key for priv.
func PublicKey(priv []byte) ([]byte, error) {
	if len(priv) != KeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", KeySize, len(priv))
	}
	return curve25519.X25519(priv, curve25519.Basepoint)
}

// DeriveKey computes the session key shared between priv and peer.
// Both ends of a session derive the same key.
func DeriveKey(priv, peer []byte) ([]byte, error) {
	if len(peer) != KeySize {
		return nil, fmt.Errorf("peer key must be %d bytes, got %d", KeySize, len(peer))
	}
	shared, err := curve25519.X25519(priv, peer)
	if err != nil {
		return nil, fmt.Errorf("compute shared secret: %w", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, sessionKeyInfo), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

// LoadOrCreateKey reads the hex-encoded private key at path, creating one
// with mode 0600 if the file does not exist.
func LoadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		priv, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("key file %s: %w", path, err)
		}
		if len(priv) != KeySize {
			return nil, fmt.Errorf("key file %s: want %d bytes, got %d", path, KeySize, len(priv))
		}
		return priv, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	priv, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(hex.EncodeToString(priv)+"\n"), 0o600); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, err
	}
	return priv, nil
}
