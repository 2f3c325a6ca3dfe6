package chatlink

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

type ClientAuth struct {
	ByJwt string
	// set to override the id in the jwt claims
	UserId     UserId
	AppVersion string
}

// the identity for this session. When not set explicitly it is pulled
// out of the platform jwt claims without verifying the signature.
// verification is the service's job; the client only needs the id
func (self *ClientAuth) ClientUserId() (UserId, error) {
	if self.UserId != "" {
		return self.UserId, nil
	}
	if self.ByJwt == "" {
		return "", nil
	}
	byJwt, err := ParseByJwtUnverified(self.ByJwt)
	if err != nil {
		return "", err
	}
	return byJwt.UserId, nil
}

type ByJwt struct {
	UserId UserId
}

func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}

	for _, claim := range []string{"user_id", "userId", "sub"} {
		if userId, ok := claims[claim]; ok {
			if userIdStr, ok := userId.(string); ok {
				byJwt.UserId = UserId(userIdStr)
				break
			}
		}
	}

	return byJwt, nil
}
