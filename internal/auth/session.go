// Package auth issues and verifies the bearer tokens the three console roles
// present, and hashes the passcodes teams log in with.
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/boardroomhq/boardroom/internal/models"
)

var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenExpire is how long issued tokens stay valid; zero means no exp
	// claim, for events that run past any sane duration guess.
	tokenExpire time.Duration
)

// Claims is the verified identity a token carries: who, for which session,
// acting as which role.
type Claims struct {
	Subject   string
	SessionID uuid.UUID
	Role      models.Role
}

// Init generates a fresh ed25519 key pair and sets the token lifetime.
// Tokens die with the process; consoles re-join through the same login flow
// they arrived by.
func Init(expire time.Duration) error {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("failed to generate ed25519 key pair: %w", err)
	}
	tokenExpire = expire
	return nil
}

// InitFromPath loads a persisted ed25519 key pair so tokens survive restarts.
func InitFromPath(privatePath, publicPath string, expire time.Duration) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	tokenExpire = expire
	return nil
}

// CreateToken signs a token binding a subject to one session in one role.
// The subject is the team id for team tokens and a free-form operator label
// for host and display tokens.
func CreateToken(subject string, sessionID uuid.UUID, role models.Role) (string, error) {
	claims := jwt.MapClaims{
		"sub":  subject,
		"sess": sessionID.String(),
		"role": string(role),
	}
	if tokenExpire > 0 {
		claims["exp"] = time.Now().Add(tokenExpire).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// VerifyToken checks the signature and expiry and returns the claims.
func VerifyToken(tokenString string) (*Claims, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	mc, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid jwt claims")
	}
	sub, ok := mc["sub"].(string)
	if !ok {
		return nil, fmt.Errorf("missing sub in jwt")
	}
	sessRaw, ok := mc["sess"].(string)
	if !ok {
		return nil, fmt.Errorf("missing sess in jwt")
	}
	sessionID, err := uuid.Parse(sessRaw)
	if err != nil {
		return nil, fmt.Errorf("malformed sess in jwt: %w", err)
	}
	roleRaw, ok := mc["role"].(string)
	if !ok {
		return nil, fmt.Errorf("missing role in jwt")
	}
	role := models.Role(roleRaw)
	switch role {
	case models.RoleHost, models.RoleDisplay, models.RoleTeam:
	default:
		return nil, fmt.Errorf("unknown role %q in jwt", roleRaw)
	}

	return &Claims{Subject: sub, SessionID: sessionID, Role: role}, nil
}
