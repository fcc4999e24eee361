// Package webhook authenticates and decodes connector webhook deliveries.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SignatureHeader carries the hex encoded HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Fivetran-Signature-256"

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrBadSignature     = errors.New("webhook signature mismatch")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

//go:embed connector_event.schema.json
var connectorEventSchema []byte

const schemaURL = "memory://schemas/connector_event.json"

// Event is the subset of a connector webhook the front-end cares about.
type Event struct {
	Event       string `json:"event"`
	ConnectorID string `json:"connector_id"`
	Data        struct {
		ID          string  `json:"id"`
		SucceededAt *string `json:"succeeded_at"`
		FailedAt    *string `json:"failed_at"`
		Status      struct {
			SetupState       string `json:"setup_state"`
			SyncState        string `json:"sync_state"`
			IsHistoricalSync bool   `json:"is_historical_sync"`
		} `json:"status"`
	} `json:"data"`
}

// Connector returns the top-level connector id, falling back to data.id.
func (e Event) Connector() string {
	if e.ConnectorID != "" {
		return e.ConnectorID
	}
	return e.Data.ID
}

// Verifier checks signatures and payload shape.
type Verifier struct {
	secret []byte
	schema *jsonschema.Schema
}

// NewVerifier compiles the payload schema. An empty secret disables signature checks.
func NewVerifier(secret string) (*Verifier, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(connectorEventSchema)); err != nil {
		return nil, fmt.Errorf("register webhook schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile webhook schema: %w", err)
	}
	return &Verifier{secret: []byte(secret), schema: schema}, nil
}

// SignaturesRequired reports whether a secret is configured.
func (v *Verifier) SignaturesRequired() bool { return len(v.secret) > 0 }

// Verify checks the signature header against the body.
func (v *Verifier) Verify(body []byte, signature string) error {
	if !v.SignaturesRequired() {
		return nil
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrMissingSignature
	}
	// Some senders prefix the algorithm.
	signature = strings.TrimPrefix(strings.ToLower(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(got, Sign(v.secret, body)) {
		return ErrBadSignature
	}
	return nil
}

// Decode validates the payload against the schema and decodes it.
func (v *Verifier) Decode(body []byte) (Event, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return evt, nil
}

// Sign computes the raw HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SignHex is Sign rendered the way the header carries it.
func SignHex(secret, body []byte) string {
	return strings.ToUpper(hex.EncodeToString(Sign(secret, body)))
}
