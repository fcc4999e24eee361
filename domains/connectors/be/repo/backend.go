package repo

import (
	"context"
	"errors"
	"time"

	"github.com/arcims/arcims-web/domains/connectors/be/service"
	"github.com/arcims/arcims-web/platform/go/backend"
)

// ConnectorAPI is the subset of the backend client used for connectors.
type ConnectorAPI interface {
	SetupConnector(ctx context.Context, tenantID string) (backend.ConnectorSetup, error)
	ConnectorStatus(ctx context.Context, tenantID string) (backend.ConnectorStatus, error)
}

// BackendProvider delegates provisioning and status queries to the backend API.
type BackendProvider struct {
	api ConnectorAPI
}

func NewBackendProvider(api ConnectorAPI) *BackendProvider {
	if api == nil {
		panic("connector api is required")
	}
	return &BackendProvider{api: api}
}

func (p *BackendProvider) Setup(ctx context.Context, tenantID string) (service.Setup, error) {
	rec, err := p.api.SetupConnector(ctx, tenantID)
	if err != nil {
		return service.Setup{}, mapError(err)
	}
	return service.Setup{
		GroupID:        rec.GroupID,
		ConnectorID:    rec.ConnectorID,
		ConnectCardURI: rec.ConnectCardURI,
		Service:        rec.Service,
	}, nil
}

func (p *BackendProvider) Status(ctx context.Context, tenantID string) (service.Status, error) {
	rec, err := p.api.ConnectorStatus(ctx, tenantID)
	if err != nil {
		return service.Status{}, mapError(err)
	}
	return service.Status{
		ConnectorID:      rec.ConnectorID,
		SetupState:       service.ParseSetupState(rec.SetupState),
		SyncState:        rec.SyncState,
		IsHistoricalSync: rec.IsHistoricalSync,
		SucceededAt:      optionalTime(rec.SucceededAt),
		FailedAt:         optionalTime(rec.FailedAt),
	}, nil
}

func optionalTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	ts := backend.ParseTimestamp(*s)
	if ts.IsZero() {
		return nil
	}
	return &ts
}

func mapError(err error) error {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return errors.Join(service.ErrNotFound, err)
	case errors.Is(err, backend.ErrTransient):
		return errors.Join(service.ErrUnavailable, err)
	default:
		return err
	}
}

// Ensure interface compliance.
var _ service.Provider = (*BackendProvider)(nil)
