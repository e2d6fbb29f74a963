package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akiojin/llm-router/types"
)

// sessionTTL bounds how long an admin login session remains valid.
const sessionTTL = 24 * time.Hour

// Claims is the JWT payload minted for an admin session.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and parses admin-session JWTs.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer builds a TokenIssuer signing with the HS256 secret.
func NewTokenIssuer(secret []byte) *TokenIssuer {
	return &TokenIssuer{secret: secret}
}

// Issue mints a signed session token for the given user.
func (t *TokenIssuer) Issue(userID, role string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(sessionTTL)
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, types.NewError(types.ErrJWT, "failed to sign token").WithCause(err).WithHTTPStatus(500)
	}
	return signed, expiresAt, nil
}

// Parse validates raw and returns its claims.
func (t *TokenIssuer) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, types.NewError(types.ErrJWT, "unexpected signing method").WithHTTPStatus(401)
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, types.NewError(types.ErrJWT, "invalid or expired token").WithCause(err).WithHTTPStatus(401)
	}
	return claims, nil
}
