package handler

import (
	"time"

	"github.com/arcims/arcims-web/domains/activation/be/service"
)

type snapshotDTO struct {
	State    string    `json:"state"`
	Reason   string    `json:"reason,omitempty"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts"`
	Redirect string    `json:"redirect,omitempty"`
	At       time.Time `json:"at"`
}

type outcomeDTO struct {
	OutcomeID   string    `json:"outcome_id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	ConnectorID string    `json:"connector_id,omitempty"`
	State       string    `json:"state"`
	Reason      string    `json:"reason,omitempty"`
	Message     string    `json:"message,omitempty"`
	Attempts    int       `json:"attempts"`
	Navigated   bool      `json:"navigated"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

func toSnapshot(s service.Snapshot) snapshotDTO {
	return snapshotDTO{
		State:    string(s.State),
		Reason:   string(s.Reason),
		Message:  s.Message,
		Attempts: s.Attempts,
		Redirect: s.Redirect,
		At:       s.At.UTC(),
	}
}

func toOutcome(o service.Outcome) outcomeDTO {
	return outcomeDTO{
		OutcomeID:   o.ID.String(),
		TenantID:    o.TenantID,
		ConnectorID: o.ConnectorID,
		State:       string(o.State),
		Reason:      string(o.Reason),
		Message:     o.Message,
		Attempts:    o.Attempts,
		Navigated:   o.Navigated,
		StartedAt:   o.StartedAt.UTC(),
		FinishedAt:  o.FinishedAt.UTC(),
	}
}
