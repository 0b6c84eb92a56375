// Package auth authenticates the API callers with HMAC signed JWT bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid is returned when a token is missing or not valid.
var ErrInvalid = errors.New("invalid token")

const issuer = "orca"

// Claims are the token claims.
type Claims struct {
	// Operator is the name of who drives the tasks, used on the task log.
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies tokens.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns a new authenticator.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("secret must be at least 16 characters")
	}

	return &Authenticator{secret: []byte(secret)}, nil
}

// Generate returns a signed token for the operator.
func (a *Authenticator) Generate(operator string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("could not sign token: %w", err)
	}

	return s, nil
}

// Parse verifies a token and returns its claims.
func (a *Authenticator) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalid
	}

	return claims, nil
}

// FromRequest verifies the request bearer token. Browsers can't set headers on websocket
// requests so the `access_token` query parameter is also accepted.
func (a *Authenticator) FromRequest(r *http.Request) (*Claims, error) {
	tokenStr := ""
	if h := r.Header.Get("Authorization"); h != "" {
		var ok bool
		tokenStr, ok = strings.CutPrefix(h, "Bearer ")
		if !ok {
			return nil, ErrInvalid
		}
	} else {
		tokenStr = r.URL.Query().Get("access_token")
	}

	if tokenStr == "" {
		return nil, ErrInvalid
	}

	return a.Parse(tokenStr)
}
