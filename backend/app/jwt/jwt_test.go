package jwtutil

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := &Signer{Secret: []byte("k"), Issuer: "autojs-hub", ExpMin: 5}
	tok, err := s.Sign(7, "admin", "admin")
	require.NoError(t, err)

	c, err := s.Parse(tok)
	require.NoError(t, err)
	assert.EqualValues(t, 7, c.UserID)
	assert.Equal(t, "admin", c.Role)
}

func TestSigner_Rejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := &Signer{Secret: []byte("k"), Issuer: "autojs-hub", ExpMin: 5, Now: func() time.Time { return now }}
	tok, err := s.Sign(1, "admin", "admin")
	require.NoError(t, err)

	other := &Signer{Secret: []byte("other"), Issuer: "autojs-hub", ExpMin: 5, Now: s.Now}
	_, err = other.Parse(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	wrongIssuer := &Signer{Secret: []byte("k"), Issuer: "someone-else", ExpMin: 5, Now: s.Now}
	_, err = wrongIssuer.Parse(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	later := &Signer{Secret: []byte("k"), Issuer: "autojs-hub", ExpMin: 5, Now: func() time.Time { return now.Add(6 * time.Minute) }}
	_, err = later.Parse(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}
