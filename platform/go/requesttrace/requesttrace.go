// Package requesttrace carries who caused a unit of work and under which request id, so calls to the
// backend API can be correlated with the front-end request or poller run that issued them.
package requesttrace

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	platformauth "github.com/arcims/arcims-web/platform/go/auth"
)

// Headers forwarded to the backend API.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderActor     = "X-Arcims-Actor"
	HeaderUser      = "X-Arcims-User"
)

type contextKey struct{}

// Actor names the origin of a unit of work.
type Actor string

const (
	ActorUser      Actor = "user"
	ActorAnonymous Actor = "anonymous"
	ActorPoller    Actor = "poller"
	ActorWebhook   Actor = "webhook"
)

// Trace is the request-scoped correlation record.
type Trace struct {
	Actor     Actor
	UserID    string
	SessionID string
	RequestID string
}

func IntoContext(ctx context.Context, t Trace) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the Trace stored on ctx, if any.
func FromContext(ctx context.Context) (Trace, bool) {
	if ctx == nil {
		return Trace{}, false
	}
	t, ok := ctx.Value(contextKey{}).(Trace)
	return t, ok
}

// FromCredentials builds the Trace of an authenticated request.
func FromCredentials(creds *platformauth.UserCredentials, requestID string) (Trace, error) {
	if creds == nil || creds.Id == "" {
		return Trace{}, errors.New("user id is required to trace a request")
	}
	t := Trace{Actor: ActorUser, UserID: creds.Id, RequestID: requestID}
	if creds.SessionID != nil {
		t.SessionID = *creds.SessionID
	}
	return t, nil
}

func Anonymous(requestID string) Trace {
	return Trace{Actor: ActorAnonymous, RequestID: requestID}
}

// Poller traces a detached activation run; runID doubles as the request id.
func Poller(userID, runID string) Trace {
	return Trace{Actor: ActorPoller, UserID: userID, RequestID: runID}
}

func Webhook(requestID string) Trace {
	return Trace{Actor: ActorWebhook, RequestID: requestID}
}

// Apply sets the correlation headers on an outgoing request. Empty values are skipped.
func (t Trace) Apply(h http.Header) {
	if t.RequestID != "" {
		h.Set(HeaderRequestID, t.RequestID)
	}
	if t.Actor != "" {
		h.Set(HeaderActor, string(t.Actor))
	}
	if t.UserID != "" {
		h.Set(HeaderUser, t.UserID)
	}
}

// Fields renders the trace for structured logs.
func (t Trace) Fields() []zap.Field {
	fields := []zap.Field{zap.String("actor", string(t.Actor))}
	if t.UserID != "" {
		fields = append(fields, zap.String("user_id", t.UserID))
	}
	return fields
}
