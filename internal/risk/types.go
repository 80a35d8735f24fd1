package risk

// ClauseType tags a category of sensitive clause. The active vocabulary is
// whatever the configuration declares; these are the built-in categories.
type ClauseType string

const (
	ClausePenalty         ClauseType = "multa"
	ClauseTermination     ClauseType = "rescisão"
	ClauseRescission      ClauseType = "distrato"
	ClauseConfidentiality ClauseType = "confidencialidade"
	ClauseExclusivity     ClauseType = "exclusividade"
	ClauseNonCompete      ClauseType = "não-concorrência"
	ClauseIndemnification ClauseType = "indenização"
	ClauseArbitration     ClauseType = "arbitragem"
	ClauseJurisdiction    ClauseType = "foro"
	ClausePriceAdjustment ClauseType = "reajuste"
)

// Factor types emitted by the engine.
const (
	FactorFinancialExposure = "financial_exposure"
	FactorContractDuration  = "contract_duration"
	FactorSensitiveClauses  = "sensitive_clauses"
)

// Snapshot is the read-only view of a contract handed to the engine.
type Snapshot struct {
	ID               string          `json:"id"`
	Value            *float64        `json:"value"`
	Currency         string          `json:"currency,omitempty"`
	EffectiveDate    string          `json:"effectiveDate,omitempty"`
	TerminationDate  string          `json:"terminationDate,omitempty"`
	ClauseText       string          `json:"clauseText,omitempty"`
	ClientRiskSignal *ExternalSignal `json:"clientRiskSignal,omitempty"`
}

type Factor struct {
	Type           string `json:"type"`
	Description    string `json:"description"`
	Impact         int    `json:"impact"`
	Recommendation string `json:"recommendation,omitempty"`
}

type Location struct {
	Page      int `json:"page"`
	Paragraph int `json:"paragraph"`
}

type SensitiveClause struct {
	Type           ClauseType `json:"type"`
	Text           string     `json:"text"`
	Location       Location   `json:"location"`
	RiskLevel      RiskLevel  `json:"riskLevel"`
	Recommendation string     `json:"recommendation,omitempty"`
}

type FinancialRisk struct {
	Value     float64   `json:"value"`
	Currency  string    `json:"currency"`
	RiskLevel RiskLevel `json:"riskLevel"`
}

type DurationRisk struct {
	Months    int       `json:"months"`
	RiskLevel RiskLevel `json:"riskLevel"`
}

// Result is the outcome of one analysis. It is built fresh on every call and
// is safe to persist verbatim and replay later.
type Result struct {
	ContractID            string            `json:"contractId"`
	Score                 int               `json:"score"`
	RiskLevel             RiskLevel         `json:"riskLevel"`
	Factors               []Factor          `json:"factors"`
	SensitiveClausesFound []SensitiveClause `json:"sensitiveClausesFound"`
	FinancialRisk         FinancialRisk     `json:"financialRisk"`
	DurationRisk          DurationRisk      `json:"durationRisk"`
	ExternalData          []ExternalSignal  `json:"externalData,omitempty"`
	Warnings              []string          `json:"warnings,omitempty"`
}
