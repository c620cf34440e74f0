package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/spaceai-pacer/internal/domain"
)

var ErrEmptyToken = errors.New("empty token")

// BaseValidator проверяет токены операторов, подписанные RS256.
// Принимает только RS256: HS256 с публичным ключом в роли секрета отсекается парсером.
type BaseValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

type ValidatorOption func(*validatorConfig)

type validatorConfig struct {
	issuer string
	leeway time.Duration
}

// WithIssuer требует совпадения iss
func WithIssuer(iss string) ValidatorOption {
	return func(c *validatorConfig) { c.issuer = iss }
}

// WithLeeway допускает расхождение часов при проверке exp/nbf
func WithLeeway(d time.Duration) ValidatorOption {
	return func(c *validatorConfig) { c.leeway = d }
}

func NewBaseValidator(pubKey *rsa.PublicKey, opts ...ValidatorOption) *BaseValidator {
	var cfg validatorConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.issuer))
	}
	if cfg.leeway > 0 {
		parserOpts = append(parserOpts, jwt.WithLeeway(cfg.leeway))
	}
	return &BaseValidator{publicKey: pubKey, parser: jwt.NewParser(parserOpts...)}
}

// VerifyToken принимает значение заголовка Authorization целиком или голый токен
func (v *BaseValidator) VerifyToken(header string) (*domain.OperatorClaims, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return nil, ErrEmptyToken
	}

	claims := &domain.OperatorClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// ParseRSAPublicKey разбирает PEM публичного ключа
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, errors.New("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
