package domain

import "time"

// Storage records behind the contract data provider. The engine never sees
// these directly; the postgres adapter maps them into a risk.Snapshot.

type Client struct {
	ID           string
	CreditScore  *float64
	CreditBureau *string
	Defaulted    *bool
}

type Template struct {
	ID   string
	Body *string
}

type Contract struct {
	ID              string
	Value           *float64
	Currency        string
	EffectiveDate   *time.Time
	TerminationDate *time.Time
	ExtractedText   *string
	Client          *Client
	Template        *Template
}

// Notification is a pending alert about a contract's risk level.
type Notification struct {
	ContractRef string
	Kind        string
	Level       string
	Score       int
	Message     string
}
