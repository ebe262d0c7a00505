package wallet

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// LocalSigner signs messages with an in-process P-256 key. Tests and
// local tooling use it in place of a browser wallet.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewLocalSigner generates a fresh key pair.
func NewLocalSigner() (*LocalSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &LocalSigner{
		key:     key,
		address: DeriveAddress(&key.PublicKey),
	}, nil
}

// Address returns the wallet address bound to this signer.
func (s *LocalSigner) Address() string {
	return s.address
}

// PublicKeyHex returns the hex-encoded compressed public key.
func (s *LocalSigner) PublicKeyHex() string {
	return hex.EncodeToString(PublicKeyToBytes(&s.key.PublicKey))
}

// Sign signs the SHA-256 digest of message, producing a 64-byte r||s
// signature.
func (s *LocalSigner) Sign(message []byte) ([]byte, error) {
	hash := sha256.Sum256(message)

	r, ss, err := ecdsa.Sign(rand.Reader, s.key, hash[:])
	if err != nil {
		return nil, err
	}

	rBytes := r.Bytes()
	sBytes := ss.Bytes()

	signature := make([]byte, 64)
	copy(signature[32-len(rBytes):32], rBytes)
	copy(signature[64-len(sBytes):64], sBytes)

	return signature, nil
}

// SignHex signs message and returns the signature hex-encoded.
func (s *LocalSigner) SignHex(message string) (string, error) {
	sig, err := s.Sign([]byte(message))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}
