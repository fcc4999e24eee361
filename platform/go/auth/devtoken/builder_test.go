package devtoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestBuildUnsignedClerkToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()

	token, err := BuildUnsignedClerkToken(Params{
		UserID:          "user_dev",
		Email:           "dev@arcims.se",
		AuthorizedParty: "http://localhost:3000",
		ExpiresIn:       30 * time.Minute,
	}, now)
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	require.Equal(t, "none", parsed.Header["alg"])

	require.Equal(t, "user_dev", claims["sub"])
	require.Equal(t, "sess_dev", claims["sid"])
	require.Equal(t, DefaultIssuer, claims["iss"])
	require.Equal(t, "dev@arcims.se", claims["email"])
	require.Equal(t, "http://localhost:3000", claims["azp"])

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	require.Equal(t, now.Add(30*time.Minute).Unix(), exp.Unix())
}

func TestBuildUnsignedClerkTokenRequiresUser(t *testing.T) {
	_, err := BuildUnsignedClerkToken(Params{Email: "x@arcims.se"}, time.Time{})
	require.Error(t, err)
}
