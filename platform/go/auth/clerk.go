package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ClerkConfig configures networkless verification of Clerk session tokens.
type ClerkConfig struct {
	// PublicKeyPEM is the instance's PEM encoded RSA public key (CLERK_JWT_KEY).
	PublicKeyPEM string
	// Issuer is the Frontend API URL; empty skips the iss check.
	Issuer string
	// AuthorizedParties lists the origins allowed in the azp claim; empty skips the check.
	AuthorizedParties []string
	Leeway            time.Duration
}

// ClerkTokenVerifier returns a VerifyFunc validating RS256 session tokens against a static public key.
func ClerkTokenVerifier(cfg ClerkConfig) (VerifyFunc, error) {
	if strings.TrimSpace(cfg.PublicKeyPEM) == "" {
		return nil, errors.New("clerk public key is required")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse clerk public key: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	parties := cfg.AuthorizedParties

	return func(ctx context.Context, token string) (map[string]interface{}, error) {
		claims := jwt.MapClaims{}
		_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil {
			return nil, err
		}

		if len(parties) > 0 {
			azp, _ := claims["azp"].(string)
			if azp != "" && !slices.Contains(parties, azp) {
				return nil, fmt.Errorf("unauthorized party %q", azp)
			}
		}
		return claims, nil
	}, nil
}
