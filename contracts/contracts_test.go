package contracts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetOnboardingSwagger(t *testing.T) {
	spec, err := GetOnboardingSwagger()
	require.NoError(t, err)

	for _, path := range []string{"/onboarding", "/onboarding/company", "/onboarding/restart", "/tenant", "/activation", "/activation/events", "/activation/outcome"} {
		require.NotNil(t, spec.Paths.Find(path), path)
	}
	require.Contains(t, spec.Components.SecuritySchemes, "bearerAuth")
	require.Contains(t, spec.Components.SecuritySchemes, "sessionCookie")
}
