package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens that fail verification or have expired.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

const issuer = "coldwatch"

// Claims represents JWT claims. Id (jti) is the session id.
type Claims struct {
	Email string `json:"email"`
	jwt.StandardClaims
}

// ExpiresAtTime returns the expiry as a time.
func (c *Claims) ExpiresAtTime() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// IssueToken creates a signed token for email with a fresh session id.
func (m *Manager) IssueToken(email string) (string, *Claims, error) {
	now := m.now()
	claims := &Claims{
		Email: normalize(email),
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.New().String(),
			Subject:   normalize(email),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(m.cfg.TokenTTL).Unix(),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(m.cfg.JWTSecret))
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// ParseToken validates a token and returns its claims.
func (m *Manager) ParseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Id == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
