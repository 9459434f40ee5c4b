package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cinema-realtime/shared"

	"github.com/golang-jwt/jwt/v5"
)

var errUnauthorized = errors.New("unauthorized")

// identity is who a websocket connection speaks for.
type identity struct {
	UserID string
	Name   string
	Role   shared.Role
}

// claims carried by access tokens. The user id is the subject.
type claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves the identity of an upgrade request. With a secret
// it requires an HS256 bearer token; without one it trusts the role, userId
// and name query parameters, which is only suitable for development.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Identify(r *http.Request) (identity, error) {
	q := r.URL.Query()
	if len(a.secret) == 0 {
		id := identity{
			UserID: q.Get(shared.QueryUserID),
			Name:   q.Get(shared.QueryName),
			Role:   shared.Role(q.Get(shared.QueryRole)),
		}
		if id.Role == "" {
			id.Role = shared.RoleCustomer
		}
		if id.UserID == "" || !id.Role.Valid() {
			return identity{}, fmt.Errorf("%w: userId and a valid role are required", errUnauthorized)
		}
		return id.withDefaultName(), nil
	}

	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		raw = q.Get(shared.QueryAccessToken)
	}
	if raw == "" {
		return identity{}, fmt.Errorf("%w: missing token", errUnauthorized)
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return identity{}, fmt.Errorf("%w: %v", errUnauthorized, err)
	}

	id := identity{UserID: c.Subject, Name: c.Name, Role: shared.Role(c.Role)}
	if id.UserID == "" || !id.Role.Valid() {
		return identity{}, fmt.Errorf("%w: token lacks subject or role", errUnauthorized)
	}
	return id.withDefaultName(), nil
}

func (id identity) withDefaultName() identity {
	if id.Name == "" {
		id.Name = id.UserID
	}
	return id
}
