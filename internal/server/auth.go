package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"keyrelay/internal/hub"
)

var (
	ErrNoToken      = errors.New("server: no access token")
	ErrInvalidToken = errors.New("server: invalid access token")
)

// accessClaims is the payload of the access tokens issued by the account
// service. Only the user id is used here.
type accessClaims struct {
	ID string `json:"_id"`
	jwt.RegisteredClaims
}

// Authenticator checks HS256 access tokens presented on the socket upgrade.
type Authenticator struct {
	secret []byte
	cookie string
}

func NewAuthenticator(secret, cookie string) *Authenticator {
	return &Authenticator{secret: []byte(secret), cookie: cookie}
}

// Authenticate returns the user id carried by the request's token, taken
// from the access cookie or an Authorization bearer header.
func (a *Authenticator) Authenticate(r *http.Request) (hub.UserID, error) {
	var raw string
	if c, err := r.Cookie(a.cookie); err == nil {
		raw = c.Value
	}
	if h := r.Header.Get("Authorization"); raw == "" && strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	}
	if raw == "" {
		return "", ErrNoToken
	}

	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" {
		return "", fmt.Errorf("%w: no user id", ErrInvalidToken)
	}
	return hub.UserID(claims.ID), nil
}
