package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medtrack/medtrack-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// refreshMargin renews cached tokens before they expire in flight.
const refreshMargin = 30 * time.Second

// MintServiceToken issues a signed JWT naming service as the caller.
func MintServiceToken(cfg config.ServiceAuthConfig, now time.Time, service string) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("service jwt secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("service jwt issuer is required")
	}
	if cfg.TokenTTL <= 0 {
		return "", fmt.Errorf("service jwt ttl must be positive")
	}
	service = strings.TrimSpace(service)
	if service == "" {
		return "", fmt.Errorf("service name is required")
	}

	claims := ServiceTokenClaims{
		Service: service,
		Scope:   cfg.TokenScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   service,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TokenTTL)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseServiceToken validates the JWT string and returns typed claims.
func ParseServiceToken(cfg config.ServiceAuthConfig, tokenString string) (*ServiceTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("service jwt secret is required")
	}

	claims := &ServiceTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, err
	}
	if cfg.TokenScope != "" && claims.Scope != cfg.TokenScope {
		return nil, fmt.Errorf("unexpected token scope %q", claims.Scope)
	}
	return claims, nil
}

// TokenSource mints service tokens and reuses them until shortly before expiry.
type TokenSource struct {
	cfg     config.ServiceAuthConfig
	service string
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenSource(cfg config.ServiceAuthConfig, service string) *TokenSource {
	return &TokenSource{cfg: cfg, service: service, now: time.Now}
}

// Token returns a valid bearer token.
func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if s.token != "" && now.Add(refreshMargin).Before(s.expires) {
		return s.token, nil
	}
	token, err := MintServiceToken(s.cfg, now, s.service)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = now.Add(s.cfg.TokenTTL)
	return token, nil
}
