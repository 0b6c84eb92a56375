package auth_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/orca/internal/auth"
)

const testSecret = "0123456789abcdef0123"

func TestNewAuthenticator(t *testing.T) {
	_, err := auth.NewAuthenticator("short")
	assert.Error(t, err)

	_, err = auth.NewAuthenticator(testSecret)
	assert.NoError(t, err)
}

func TestAuthenticatorFromRequest(t *testing.T) {
	a, err := auth.NewAuthenticator(testSecret)
	require.NoError(t, err)
	other, err := auth.NewAuthenticator("another-secret-0123456789")
	require.NoError(t, err)

	valid, err := a.Generate("alice", time.Hour)
	require.NoError(t, err)
	expired, err := a.Generate("alice", -time.Hour)
	require.NoError(t, err)
	foreign, err := other.Generate("alice", time.Hour)
	require.NoError(t, err)
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"operator": "alice", "iss": "orca"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]struct {
		header      string
		query       string
		expOperator string
		expErr      bool
	}{
		"A valid bearer token should be accepted.": {
			header:      "Bearer " + valid,
			expOperator: "alice",
		},

		"A valid query token should be accepted.": {
			query:       "access_token=" + valid,
			expOperator: "alice",
		},

		"A missing token should fail.": {
			expErr: true,
		},

		"A non bearer authorization should fail.": {
			header: "Basic " + valid,
			expErr: true,
		},

		"An expired token should fail.": {
			header: "Bearer " + expired,
			expErr: true,
		},

		"A token signed with another secret should fail.": {
			header: "Bearer " + foreign,
			expErr: true,
		},

		"An unsigned token should fail.": {
			header: "Bearer " + unsigned,
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			r := httptest.NewRequest("GET", "/api/v1/tasks?"+test.query, nil)
			if test.header != "" {
				r.Header.Set("Authorization", test.header)
			}

			claims, err := a.FromRequest(r)
			if test.expErr {
				assert.ErrorIs(err, auth.ErrInvalid)
				return
			}
			assert.NoError(err)
			assert.Equal(test.expOperator, claims.Operator)
		})
	}
}
