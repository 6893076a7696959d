package domain

import "time"

// TrainingRun records the outcome of one model creation.
type TrainingRun struct {
	ID              string             `json:"id"`
	Algorithm       string             `json:"algorithm"`
	DataSource      string             `json:"dataSource"`
	DataHash        string             `json:"dataHash"`
	Scores          map[string]float64 `json:"scores"`
	EstimatorParams map[string]any     `json:"estimatorParams"`
	TrainRows       int                `json:"trainRows"`
	TestRows        int                `json:"testRows"`
	DurationMs      int64              `json:"durationMs"`
	CreatedAt       time.Time          `json:"createdAt"`
}

// Decision is the serving outcome for a single transaction.
type Decision struct {
	TransactionID string       `json:"transaction_id"`
	Block         int          `json:"transaction_to_block"`
	Score         float64      `json:"score"`
	Prediction    int          `json:"prediction"`
	Rules         []RuleResult `json:"rules,omitempty"`
	Algorithm     string       `json:"algorithm"`
	TraceID       string       `json:"trace_id,omitempty"`
	DecidedAt     time.Time    `json:"decided_at"`
}
