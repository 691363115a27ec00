package standx

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"makerd/internal/domain"
)

// Signer holds the StandX session credentials and produces per-request
// headers. Credentials arrive either from config at boot or from the
// control API after a wallet login, so access is mutex-guarded.
type Signer struct {
	mu            sync.RWMutex
	token         string
	privateKey    ed25519.PrivateKey
	walletAddress string
	chain         string
	tokenSetAt    time.Time
}

// NewSigner creates an empty signer. Credentials are installed later
// via SetCredentials.
func NewSigner() *Signer {
	return &Signer{}
}

// SetCredentials installs the bearer token and the hex-encoded ed25519
// private key used for body signatures.
func (s *Signer) SetCredentials(token, ed25519KeyHex, walletAddress, chain string) error {
	var key ed25519.PrivateKey
	if ed25519KeyHex != "" {
		raw, err := hex.DecodeString(strings.TrimPrefix(ed25519KeyHex, "0x"))
		if err != nil {
			return fmt.Errorf("decode ed25519 key: %w", err)
		}
		switch len(raw) {
		case ed25519.SeedSize:
			key = ed25519.NewKeyFromSeed(raw)
		case ed25519.PrivateKeySize:
			key = ed25519.PrivateKey(raw)
		default:
			return fmt.Errorf("ed25519 key must be %d or %d bytes, got %d",
				ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.privateKey = key
	s.walletAddress = walletAddress
	s.chain = chain
	s.tokenSetAt = time.Now()
	return nil
}

// SetToken replaces only the bearer token (refresh path).
func (s *Signer) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.tokenSetAt = time.Now()
}

// IsAuthenticated reports whether a token is installed.
func (s *Signer) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// WalletAddress returns the logged-in wallet address, if any.
func (s *Signer) WalletAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.walletAddress
}

// Token returns the current bearer token.
func (s *Signer) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", domain.ErrNotAuthenticated
	}
	return s.token, nil
}

// TokenAge returns how long ago the token was installed.
func (s *Signer) TokenAge() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokenSetAt.IsZero() {
		return 0
	}
	return time.Since(s.tokenSetAt)
}

// GenerateHeaders creates the auth header plus, when a body and signing
// key are present, the StandX body-signature headers. The signed
// message is "v1,{requestId},{timestampMillis},{payload}".
func (s *Signer) GenerateHeaders(body string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return nil, domain.ErrNotAuthenticated
	}

	headers := map[string]string{
		"Authorization": "Bearer " + s.token,
		"Content-Type":  "application/json",
	}

	if body != "" && s.privateKey != nil {
		requestID := uuid.NewString()
		timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())
		message := "v1," + requestID + "," + timestamp + "," + body

		sig := ed25519.Sign(s.privateKey, []byte(message))

		headers["x-request-sign-version"] = "v1"
		headers["x-request-id"] = requestID
		headers["x-request-timestamp"] = timestamp
		headers["x-request-signature"] = base64.StdEncoding.EncodeToString(sig)
	}

	return headers, nil
}
