package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// secretFileName stores the HMAC signing key across restarts, so tokens
// issued before a daemon restart stay valid.
const secretFileName = "jwt.secret"

// LoadOrCreateSecret reads `<controlDir>/jwt.secret`, generating a fresh
// 32-byte key on first run.
func LoadOrCreateSecret(controlDir string) ([]byte, error) {
	path := filepath.Join(controlDir, secretFileName)
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return data, nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("auth: generate secret: %w", err)
	}
	if err := os.MkdirAll(controlDir, 0o755); err != nil {
		return nil, fmt.Errorf("auth: create control dir: %w", err)
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, fmt.Errorf("auth: persist secret: %w", err)
	}
	return secret, nil
}

type identityCtxKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// FromContext retrieves the Identity stored by Gate.Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// claims is the payload of a signed, time-limited session token issued
// after SSH-key or password login.
type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenVerifier validates bearer tokens issued by the auth service. It
// holds the HMAC secret used to sign them; in production this secret is
// generated once at first boot and persisted under the control directory.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier constructs a verifier around a shared HMAC secret.
func NewTokenVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

// Verify parses and validates tokenString, returning the embedded
// username on success.
func (v *TokenVerifier) Verify(tokenString string) (string, bool) {
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	c, ok := token.Claims.(*claims)
	if !ok || c.Username == "" {
		return "", false
	}
	return c.Username, true
}

// Issue mints a signed token for username, valid for ttl.
func (v *TokenVerifier) Issue(username string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(v.secret)
}
