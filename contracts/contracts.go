// Package contracts embeds the OpenAPI documents served and enforced by the web app.
package contracts

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed onboarding.yaml
var onboardingYAML []byte

// GetOnboardingSwagger parses and validates the onboarding contract.
func GetOnboardingSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromData(onboardingYAML)
	if err != nil {
		return nil, fmt.Errorf("load onboarding contract: %w", err)
	}
	if err := spec.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate onboarding contract: %w", err)
	}
	return spec, nil
}
