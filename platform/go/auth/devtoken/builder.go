package devtoken

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer marks tokens minted for local development.
const DefaultIssuer = "https://clerk.arcims.local"

// Params captures the Clerk session claims required to mint an unsigned JWT
// for local and CI environments. No environment variables are read so the
// builder stays deterministic for tooling.
type Params struct {
	UserID          string        // sub (required); must match the tenant's clerk_user_id
	Email           string        // email claim (optional)
	SessionID       string        // sid; defaults to "sess_dev"
	Issuer          string        // defaults to DefaultIssuer
	AuthorizedParty string        // azp (optional)
	ExpiresIn       time.Duration // relative expiry; default 1h if zero
}

// BuildUnsignedClerkToken returns a JWT string with alg "none" and an empty signature.
// It is accepted only by the unsigned verifier used when AUTH_PROVIDER=dev.
func BuildUnsignedClerkToken(p Params, now time.Time) (string, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return "", errors.New("userID is required")
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	expiresIn := p.ExpiresIn
	if expiresIn == 0 {
		expiresIn = time.Hour
	}

	issuer := p.Issuer
	if strings.TrimSpace(issuer) == "" {
		issuer = DefaultIssuer
	}

	sessionID := p.SessionID
	if strings.TrimSpace(sessionID) == "" {
		sessionID = "sess_dev"
	}

	claims := jwt.MapClaims{
		"iss": issuer,
		"sub": p.UserID,
		"sid": sessionID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if p.Email != "" {
		claims["email"] = p.Email
	}
	if p.AuthorizedParty != "" {
		claims["azp"] = p.AuthorizedParty
	}

	return jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
}
