// Package catalog embeds the default risk configuration: the sensitive clause
// vocabulary with its trigger patterns, the financial and duration bands and
// the scoring weights.
package catalog

import (
	_ "embed"
)

// Default holds the raw bytes of clauses.yaml. Pass it to
// risk.LoadConfiguration; RISK_CATALOG_PATH replaces it at runtime.
//
//go:embed clauses.yaml
var Default []byte
