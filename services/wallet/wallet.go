// Package wallet provides wallet-signature authentication for the
// session ledger. A client proves ownership of an address by signing a
// server-issued nonce challenge; successful verification yields a
// bearer token that scopes all subsequent ledger operations to that
// address.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/prizepool-labs/ledger-service/pkg/logger"
)

// Authentication errors.
var (
	// ErrWalletNotConnected indicates the caller never requested a
	// challenge (or it expired), so there is no wallet to authenticate.
	ErrWalletNotConnected = errors.New("wallet not connected: no challenge issued for address")

	// ErrSignatureRejected indicates the signature did not verify
	// against the supplied public key, or the key does not belong to
	// the claimed address.
	ErrSignatureRejected = errors.New("signature rejected")
)

// Signer is the message-signing capability bound to an address.
type Signer interface {
	Sign(message []byte) ([]byte, error)
	Address() string
}

// Challenge is a one-time authentication challenge.
type Challenge struct {
	Nonce     string
	Message   string
	ExpiresAt time.Time
}

// Credentials is the result of a successful authentication.
type Credentials struct {
	Address    string `json:"address"`
	SessionKey string `json:"session_key"`
	Token      string `json:"token"`
}

// Claims is the JWT claim set issued on authentication.
type Claims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// Authenticator verifies wallet ownership and issues bearer tokens.
type Authenticator struct {
	mu         sync.Mutex
	challenges map[string]Challenge

	jwtSecret []byte
	tokenTTL  time.Duration
	nonceTTL  time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(jwtSecret []byte, tokenTTL, nonceTTL time.Duration, log *logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewDefault("wallet")
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if nonceTTL <= 0 {
		nonceTTL = 5 * time.Minute
	}
	return &Authenticator{
		challenges: make(map[string]Challenge),
		jwtSecret:  jwtSecret,
		tokenTTL:   tokenTTL,
		nonceTTL:   nonceTTL,
		log:        log,
		now:        time.Now,
	}
}

// IssueChallenge creates a nonce challenge for an address. Requesting a
// new challenge replaces any prior one for the same address.
func (a *Authenticator) IssueChallenge(ctx context.Context, address string) (Challenge, error) {
	if address == "" {
		return Challenge{}, fmt.Errorf("%w: empty address", ErrWalletNotConnected)
	}

	nonce, err := generateNonce()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate nonce: %w", err)
	}

	now := a.now()
	ch := Challenge{
		Nonce:     nonce,
		Message:   fmt.Sprintf("Sign this message to authenticate with PrizePool Ledger.\n\nNonce: %s\nTimestamp: %d", nonce, now.Unix()),
		ExpiresAt: now.Add(a.nonceTTL),
	}

	a.mu.Lock()
	a.challenges[address] = ch
	a.mu.Unlock()

	return ch, nil
}

// Authenticate verifies a signed challenge and issues credentials.
// Failure never leaves partial authentication state behind: the
// challenge is consumed only on success.
func (a *Authenticator) Authenticate(ctx context.Context, address, publicKeyHex, message string, signatureHex string) (Credentials, error) {
	a.mu.Lock()
	ch, ok := a.challenges[address]
	a.mu.Unlock()

	if !ok || a.now().After(ch.ExpiresAt) {
		return Credentials{}, ErrWalletNotConnected
	}
	if !strings.Contains(message, ch.Nonce) {
		return Credentials{}, fmt.Errorf("%w: nonce not present in signed message", ErrSignatureRejected)
	}

	pub, err := parsePublicKey(publicKeyHex)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrSignatureRejected, err)
	}
	if DeriveAddress(pub) != address {
		return Credentials{}, fmt.Errorf("%w: public key does not match address", ErrSignatureRejected)
	}

	signature, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: malformed signature", ErrSignatureRejected)
	}

	hash := sha256.Sum256([]byte(message))
	if !verifySignature(pub, hash[:], signature) {
		return Credentials{}, ErrSignatureRejected
	}

	token, err := a.generateToken(address)
	if err != nil {
		return Credentials{}, fmt.Errorf("issue token: %w", err)
	}

	// One-time use: consume the challenge only after everything passed.
	a.mu.Lock()
	delete(a.challenges, address)
	a.mu.Unlock()

	a.log.WithField("address", address).Info("wallet authenticated")

	return Credentials{
		Address:    address,
		SessionKey: uuid.New().String(),
		Token:      token,
	}, nil
}

// ValidateToken parses and validates a bearer token, returning the
// wallet address it was issued to.
func (a *Authenticator) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.Address, nil
	}
	return "", fmt.Errorf("invalid token")
}

func (a *Authenticator) generateToken(address string) (string, error) {
	now := a.now()
	claims := &Claims{
		Address: address,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "prizepool-ledger",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// parsePublicKey decodes a hex-encoded compressed P-256 public key.
func parsePublicKey(publicKeyHex string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(publicKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("malformed public key hex")
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), raw)
	if x == nil {
		return nil, fmt.Errorf("invalid public key encoding")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// PublicKeyToBytes encodes a P-256 public key in compressed form.
func PublicKeyToBytes(pub *ecdsa.PublicKey) []byte {
	return elliptic.MarshalCompressed(pub.Curve, pub.X, pub.Y)
}

// DeriveAddress derives the wallet address for a public key: 0x-prefixed
// hex of the first 20 bytes of the key's SHA-256 digest.
func DeriveAddress(pub *ecdsa.PublicKey) string {
	digest := sha256.Sum256(PublicKeyToBytes(pub))
	return "0x" + hex.EncodeToString(digest[:20])
}

// verifySignature verifies a 64-byte r||s ECDSA signature over hash.
func verifySignature(pub *ecdsa.PublicKey, hash, signature []byte) bool {
	if len(signature) != 64 {
		return false
	}

	r := new(big.Int).SetBytes(signature[:32])
	s := new(big.Int).SetBytes(signature[32:])

	return ecdsa.Verify(pub, hash, r, s)
}
