package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	platformauth "github.com/arcims/arcims-web/platform/go/auth"
	"github.com/arcims/arcims-web/platform/go/gcp"
)

// buildAuthMiddleware constructs the JWT middleware for the configured identity provider.
func buildAuthMiddleware(ctx context.Context, cfg config, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	var verify platformauth.VerifyFunc
	switch cfg.AuthProvider {
	case "clerk":
		v, err := platformauth.ClerkTokenVerifier(platformauth.ClerkConfig{
			PublicKeyPEM:      cfg.ClerkJWTKey,
			Issuer:            cfg.ClerkIssuer,
			AuthorizedParties: cfg.ClerkAuthorizedParties,
			Leeway:            cfg.ClerkLeeway,
		})
		if err != nil {
			return nil, fmt.Errorf("init clerk verifier: %w", err)
		}
		verify = v
	case "firebase":
		fbAuth, err := gcp.InitFirebaseAuth(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("init firebase auth: %w", err)
		}
		verify = platformauth.FirebaseTokenVerifier(fbAuth)
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		verify = platformauth.UnsignedTokenVerifier()
	default:
		return nil, fmt.Errorf("unsupported auth provider %q", cfg.AuthProvider)
	}

	return platformauth.JWT(verify, platformauth.DefaultCredentialExtractor), nil
}
