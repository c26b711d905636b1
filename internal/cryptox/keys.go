// Package cryptox holds the RSA identity keys and the per-chunk encryption
// primitives used by the secure channel.
package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/dmitrijs2005/micropay/internal/filex"
)

// DefaultKeyBits is the modulus size used for new identities.
const DefaultKeyBits = 2048

const (
	privatePEMType = "RSA PRIVATE KEY"
	publicPEMType  = "PUBLIC KEY"
)

var ErrInvalidKey = errors.New("invalid key")

// KeyPair is one identity: the private key plus its public half.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// GenerateKeyPair creates a fresh RSA identity.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// LoadOrCreateKeyPair reads the identity stored at privPath/pubPath. If
// either file is missing both are regenerated and written.
func LoadOrCreateKeyPair(privPath, pubPath string, bits int) (kp *KeyPair, created bool, err error) {
	if filex.IsFile(privPath) && filex.IsFile(pubPath) {
		kp, err = LoadKeyPair(privPath)
		return kp, false, err
	}

	_ = os.Remove(privPath)
	_ = os.Remove(pubPath)

	kp, err = GenerateKeyPair(bits)
	if err != nil {
		return nil, false, err
	}
	if err := kp.Save(privPath, pubPath); err != nil {
		return nil, false, err
	}
	return kp, true, nil
}

// LoadKeyPair reads a PKCS#1 private key PEM. The public half is derived
// from it.
func LoadKeyPair(privPath string) (*KeyPair, error) {
	data, err := os.ReadFile(privPath)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKeyPEM(data)
}

// Save writes the private key (0600) and public key (0644) as PEM.
func (kp *KeyPair) Save(privPath, pubPath string) error {
	if err := filex.WriteFile(privPath, kp.PrivateKeyPEM(), 0o600); err != nil {
		return err
	}
	pub, err := kp.PublicKeyPEM()
	if err != nil {
		return err
	}
	return filex.WriteFile(pubPath, pub, 0o644)
}

func (kp *KeyPair) PrivateKeyPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: privatePEMType, Bytes: x509.MarshalPKCS1PrivateKey(kp.Private)})
}

func (kp *KeyPair) PublicKeyPEM() ([]byte, error) {
	return MarshalPublicKeyPEM(kp.Public)
}

// MarshalPublicKeyPEM encodes pub as a PKIX "PUBLIC KEY" block.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: publicPEMType, Bytes: der}), nil
}

// ParsePublicKeyPEM accepts PKIX ("PUBLIC KEY") and PKCS#1
// ("RSA PUBLIC KEY") encodings. Leading noise before the PEM block is
// skipped, trailing bytes are ignored.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	switch block.Type {
	case publicPEMType:
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		pub, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKey)
		}
		return pub, nil
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidKey, block.Type)
	}
}

// ParsePrivateKeyPEM accepts PKCS#1 and PKCS#8 RSA private keys.
func ParsePrivateKeyPEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	var priv *rsa.PrivateKey
	switch block.Type {
	case privatePEMType:
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		priv = k
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKey)
		}
		priv = rk
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidKey, block.Type)
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// Fingerprint returns the OpenSSH-style SHA256 fingerprint of pub, which is
// what gets logged when a key is first seen.
func Fingerprint(pub *rsa.PublicKey) string {
	if pub == nil {
		return ""
	}
	sp, err := ssh.NewPublicKey(pub)
	if err != nil {
		return ""
	}
	return ssh.FingerprintSHA256(sp)
}
