package chatlink

import (
	"testing"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func signTestJwt(t *testing.T, claims gojwt.MapClaims) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	jwt, err := token.SignedString([]byte("test"))
	assert.Equal(t, nil, err)
	return jwt
}

func TestParseByJwtUnverified(t *testing.T) {
	jwt := signTestJwt(t, gojwt.MapClaims{
		"user_id": "u1",
	})
	byJwt, err := ParseByJwtUnverified(jwt)
	assert.Equal(t, nil, err)
	assert.Equal(t, UserId("u1"), byJwt.UserId)

	// alternate claim names
	jwt = signTestJwt(t, gojwt.MapClaims{
		"sub": "u2",
	})
	byJwt, err = ParseByJwtUnverified(jwt)
	assert.Equal(t, nil, err)
	assert.Equal(t, UserId("u2"), byJwt.UserId)

	_, err = ParseByJwtUnverified("not a jwt")
	assert.NotEqual(t, nil, err)
}

func TestClientAuthUserId(t *testing.T) {
	// explicit id wins
	auth := &ClientAuth{
		UserId: "u1",
		ByJwt:  signTestJwt(t, gojwt.MapClaims{"user_id": "u2"}),
	}
	userId, err := auth.ClientUserId()
	assert.Equal(t, nil, err)
	assert.Equal(t, UserId("u1"), userId)

	// otherwise pulled from the jwt
	auth = &ClientAuth{
		ByJwt: signTestJwt(t, gojwt.MapClaims{"user_id": "u2"}),
	}
	userId, err = auth.ClientUserId()
	assert.Equal(t, nil, err)
	assert.Equal(t, UserId("u2"), userId)

	// neither set
	auth = &ClientAuth{}
	userId, err = auth.ClientUserId()
	assert.Equal(t, nil, err)
	assert.Equal(t, UserId(""), userId)
}
