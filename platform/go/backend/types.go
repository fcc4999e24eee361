package backend

import (
	"strings"
	"time"
)

// Tenant mirrors the backend tenant record.
// created_at is kept as the raw string the backend emits (naive ISO timestamps).
type Tenant struct {
	TenantID            string  `json:"tenant_id"`
	CompanyName         *string `json:"company_name"`
	ClerkUserID         string  `json:"clerk_user_id"`
	Email               string  `json:"email"`
	SnowflakeRole       string  `json:"snowflake_role"`
	OnboardingState     string  `json:"onboarding_state"`
	CreatedAt           string  `json:"created_at"`
	DataReady           bool    `json:"data_ready"`
	FivetranGroupID     *string `json:"fivetran_group_id,omitempty"`
	FivetranConnectorID *string `json:"fivetran_connector_id,omitempty"`
}

// ConnectorSetup is returned once a connector group and connector have been created.
type ConnectorSetup struct {
	GroupID        string `json:"group_id"`
	ConnectorID    string `json:"connector_id"`
	ConnectCardURI string `json:"connect_card_uri"`
	Service        string `json:"service"`
}

// ConnectorStatus is a point-in-time read of the tenant's connector.
type ConnectorStatus struct {
	ConnectorID      string  `json:"connector_id"`
	SetupState       string  `json:"setup_state"`
	SyncState        string  `json:"sync_state"`
	IsHistoricalSync bool    `json:"is_historical_sync"`
	SucceededAt      *string `json:"succeeded_at"`
	FailedAt         *string `json:"failed_at"`
}

type problemBody struct {
	Detail any `json:"detail"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 and the naive UTC timestamps the backend emits; unparseable input yields the zero time.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}
