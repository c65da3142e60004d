package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// ServiceTokenClaims identifies a backend service calling a sibling service.
type ServiceTokenClaims struct {
	Service string `json:"service"`
	Scope   string `json:"scope"`
	jwt.RegisteredClaims
}
