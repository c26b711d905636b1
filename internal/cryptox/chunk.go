package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
)

// pkcs1Overhead is the PKCS#1 v1.5 padding cost per RSA block.
const pkcs1Overhead = 11

var ErrDecrypt = errors.New("decryption failed")

// ChunkSize is the largest plaintext that fits one RSA block of pub.
func ChunkSize(pub *rsa.PublicKey) int {
	return pub.Size() - pkcs1Overhead
}

// SplitChunks cuts msg into pieces of at most size bytes. An empty message
// still yields one (empty) chunk so that it round-trips.
func SplitChunks(msg []byte, size int) [][]byte {
	if len(msg) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(msg)+size-1)/size)
	for len(msg) > 0 {
		n := min(size, len(msg))
		chunks = append(chunks, msg[:n])
		msg = msg[n:]
	}
	return chunks
}

// EncryptChunks encrypts msg chunk by chunk with pub and returns the base64
// encoding of each ciphertext, in order.
func EncryptChunks(pub *rsa.PublicKey, msg []byte) ([]string, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil public key", ErrInvalidKey)
	}
	chunks := SplitChunks(msg, ChunkSize(pub))
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, c)
		if err != nil {
			return nil, fmt.Errorf("encrypt chunk: %w", err)
		}
		out = append(out, base64.StdEncoding.EncodeToString(ct))
	}
	return out, nil
}

// DecryptChunk reverses one EncryptChunks element.
func DecryptChunk(priv *rsa.PrivateKey, b64 string) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrInvalidKey)
	}
	ct, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecrypt, err)
	}
	pt, err := rsa.DecryptPKCS1v15(rand.Reader, priv, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return pt, nil
}
