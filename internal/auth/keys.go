package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Key file names written by WriteKeyPair.
const (
	PrivateKeyFile = "jwt_private.pem"
	PublicKeyFile  = "jwt_public.pem"
)

// KeyPair is the Ed25519 pair tokens are signed and verified with.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateKeyPair returns a fresh random pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("auth: generate key pair: %w", err)
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

// LoadKeyPair reads a PKCS#8 private key and a PKIX public key and checks
// that they belong together.
func LoadKeyPair(privatePath, publicPath string) (KeyPair, error) {
	privDER, err := readPEM(privatePath, "PRIVATE KEY")
	if err != nil {
		return KeyPair{}, err
	}
	pubDER, err := readPEM(publicPath, "PUBLIC KEY")
	if err != nil {
		return KeyPair{}, err
	}

	privAny, err := x509.ParsePKCS8PrivateKey(privDER)
	if err != nil {
		return KeyPair{}, fmt.Errorf("auth: parse private key: %w", err)
	}
	priv, ok := privAny.(ed25519.PrivateKey)
	if !ok {
		return KeyPair{}, fmt.Errorf("auth: private key is %T, want Ed25519", privAny)
	}
	pubAny, err := x509.ParsePKIXPublicKey(pubDER)
	if err != nil {
		return KeyPair{}, fmt.Errorf("auth: parse public key: %w", err)
	}
	pub, ok := pubAny.(ed25519.PublicKey)
	if !ok {
		return KeyPair{}, fmt.Errorf("auth: public key is %T, want Ed25519", pubAny)
	}

	if !bytes.Equal(priv.Public().(ed25519.PublicKey), pub) {
		return KeyPair{}, errors.New("auth: public key does not match private key")
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

// WriteKeyPair generates a pair into dir as PEM files readable only by the
// owner. Existing files are never overwritten.
func WriteKeyPair(dir string) (privatePath, publicPath string, err error) {
	privatePath = filepath.Join(dir, PrivateKeyFile)
	publicPath = filepath.Join(dir, PublicKeyFile)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("auth: create %s: %w", dir, err)
	}
	for _, p := range []string{privatePath, publicPath} {
		if _, err := os.Stat(p); err == nil {
			return "", "", fmt.Errorf("auth: %s already exists, delete it first to rotate keys", p)
		}
	}

	keys, err := GenerateKeyPair()
	if err != nil {
		return "", "", err
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(keys.Private)
	if err != nil {
		return "", "", fmt.Errorf("auth: marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(keys.Public)
	if err != nil {
		return "", "", fmt.Errorf("auth: marshal public key: %w", err)
	}
	if err := writePEM(privatePath, "PRIVATE KEY", privDER); err != nil {
		return "", "", err
	}
	if err := writePEM(publicPath, "PUBLIC KEY", pubDER); err != nil {
		return "", "", err
	}
	return privatePath, publicPath, nil
}

func readPEM(path, blockType string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("auth: read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockType {
		return nil, fmt.Errorf("auth: %s: no %s PEM block", path, blockType)
	}
	return block.Bytes, nil
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("auth: create %s: %w", path, err)
	}
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = f.Close()
		return fmt.Errorf("auth: write %s: %w", path, err)
	}
	return f.Close()
}
