package sqlassets

import _ "embed"

// ActivationOutcomesSQL creates the activation journal table. Statements are idempotent.
//
//go:embed schema/activation_outcomes.sql
var ActivationOutcomesSQL string
