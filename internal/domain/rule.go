package domain

// BlockRule is a CEL expression evaluated at serving time.
// Variables: score (double), prediction (int), tx_amount (double).
type BlockRule struct {
	ID         string `json:"id" koanf:"id"`
	Name       string `json:"name" koanf:"name"`
	Expression string `json:"expression" koanf:"expression"`
	Enabled    bool   `json:"enabled" koanf:"enabled"`
}

// RuleResult is the outcome of a single block rule.
type RuleResult struct {
	RuleID  string `json:"ruleId"`
	Matched bool   `json:"matched"`
	Error   string `json:"error,omitempty"`
}
