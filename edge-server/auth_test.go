package main

import (
	"net/http/httptest"
	"testing"
	"time"

	"cinema-realtime/shared"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "not-a-real-secret"

func signToken(t *testing.T, method jwt.SigningMethod, secret string, c claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, c).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(sub string, role shared.Role) claims {
	return claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestIdentifyFromQueryWithoutSecret(t *testing.T) {
	auth := NewAuthenticator("")

	who, err := auth.Identify(httptest.NewRequest("GET", "/ws?userId=alice&name=Alice&role=Employee", nil))
	require.NoError(t, err)
	assert.Equal(t, identity{UserID: "alice", Name: "Alice", Role: shared.RoleEmployee}, who)

	who, err = auth.Identify(httptest.NewRequest("GET", "/ws?userId=guest-1", nil))
	require.NoError(t, err)
	assert.Equal(t, shared.RoleCustomer, who.Role)
	assert.Equal(t, "guest-1", who.Name)
}

func TestIdentifyRejectsIncompleteQuery(t *testing.T) {
	auth := NewAuthenticator("")

	_, err := auth.Identify(httptest.NewRequest("GET", "/ws?role=Customer", nil))
	assert.ErrorIs(t, err, errUnauthorized)

	_, err = auth.Identify(httptest.NewRequest("GET", "/ws?userId=alice&role=Admin", nil))
	assert.ErrorIs(t, err, errUnauthorized)
}

func TestIdentifyFromBearerToken(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	c := validClaims("u-42", shared.RoleCustomer)
	c.Name = "Dana"

	r := httptest.NewRequest("GET", "/ws?userId=spoofed&role=Employee", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, testSecret, c))

	who, err := auth.Identify(r)
	require.NoError(t, err)
	assert.Equal(t, identity{UserID: "u-42", Name: "Dana", Role: shared.RoleCustomer}, who)
}

func TestIdentifyFromAccessTokenQuery(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	token := signToken(t, jwt.SigningMethodHS256, testSecret, validClaims("staff-1", shared.RoleEmployee))

	who, err := auth.Identify(httptest.NewRequest("GET", "/ws?access_token="+token, nil))
	require.NoError(t, err)
	assert.Equal(t, "staff-1", who.UserID)
	assert.Equal(t, shared.RoleEmployee, who.Role)
}

func TestIdentifyRejectsBadTokens(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	expired := validClaims("u-1", shared.RoleCustomer)
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	cases := map[string]string{
		"missing":      "",
		"wrong secret": signToken(t, jwt.SigningMethodHS256, "other", validClaims("u-1", shared.RoleCustomer)),
		"wrong method": signToken(t, jwt.SigningMethodHS384, testSecret, validClaims("u-1", shared.RoleCustomer)),
		"expired":      signToken(t, jwt.SigningMethodHS256, testSecret, expired),
		"no role":      signToken(t, jwt.SigningMethodHS256, testSecret, validClaims("u-1", "")),
		"no subject":   signToken(t, jwt.SigningMethodHS256, testSecret, validClaims("", shared.RoleCustomer)),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if token != "" {
				r.Header.Set("Authorization", "Bearer "+token)
			}
			_, err := auth.Identify(r)
			assert.ErrorIs(t, err, errUnauthorized)
		})
	}
}
