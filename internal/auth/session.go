// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the cookie the web client stores its bearer token in.
const CookieName = "auth_token"

// ErrMissingToken is returned when a request carries no token at all.
var ErrMissingToken = errors.New("missing auth token")

// Keys signs and verifies JWTs with an ed25519 key pair.
type Keys struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// expiry is added to "exp" on issue; 0 means tokens never expire.
	expiry time.Duration
}

// GenerateKeys creates a fresh ed25519 key pair at runtime.
func GenerateKeys(expiry time.Duration) (*Keys, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	return &Keys{privateKey: priv, publicKey: pub, expiry: expiry}, nil
}

// LoadKeys reads raw ed25519 private/public keys from file. The private key
// may be omitted when the process only verifies tokens.
func LoadKeys(privatePath, publicPath string, expiry time.Duration) (*Keys, error) {
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(publicKeyData) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(publicKeyData), ed25519.PublicKeySize)
	}
	k := &Keys{publicKey: ed25519.PublicKey(publicKeyData), expiry: expiry}

	if privatePath != "" {
		privateKeyData, err := os.ReadFile(privatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
		k.privateKey = ed25519.PrivateKey(privateKeyData)
	}
	return k, nil
}

// Save writes the raw key pair in the format LoadKeys reads.
func (k *Keys) Save(privatePath, publicPath string) error {
	if k.privateKey == nil {
		return errors.New("no private key loaded")
	}
	if err := os.WriteFile(privatePath, k.privateKey, 0o600); err != nil {
		return fmt.Errorf("failed to write private key file: %w", err)
	}
	if err := os.WriteFile(publicPath, k.publicKey, 0o644); err != nil {
		return fmt.Errorf("failed to write public key file: %w", err)
	}
	return nil
}

// CreateJWT creates a signed JWT token with "sub" = userID.
func (k *Keys) CreateJWT(userID string) (string, error) {
	if k.privateKey == nil {
		return "", errors.New("no private key loaded")
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
	}
	if k.expiry > 0 {
		claims["exp"] = time.Now().Add(k.expiry).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(k.privateKey)
}

// AuthenticateJWT verifies a JWT string, returns the "sub" field if valid, else an error.
func (k *Keys) AuthenticateJWT(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return k.publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid jwt claims")
	}

	userID, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("missing sub in jwt")
	}

	return userID, nil
}

// AuthenticateUser verifies the token and parses its subject as a user id.
func (k *Keys) AuthenticateUser(tokenString string) (uuid.UUID, error) {
	sub, err := k.AuthenticateJWT(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed user id in sub: %w", err)
	}
	return id, nil
}

// AuthenticateRequest pulls the token from the request and verifies it.
func (k *Keys) AuthenticateRequest(r *http.Request) (uuid.UUID, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return uuid.Nil, ErrMissingToken
	}
	return k.AuthenticateUser(token)
}

// TokenFromRequest looks for a token in the "token" query parameter, then the
// Authorization bearer header, then the auth_token cookie.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}
