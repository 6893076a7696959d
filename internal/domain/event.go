package domain

import (
	"time"
)

// Scenario identifies which fraud-injection pass labelled an event.
type Scenario int

const (
	ScenarioNone Scenario = iota
	ScenarioBaseline
	ScenarioCompromisedTerminal
	ScenarioCompromisedCard
)

// String returns the scenario name used in tables and logs.
func (s Scenario) String() string {
	switch s {
	case ScenarioNone:
		return "none"
	case ScenarioBaseline:
		return "baseline"
	case ScenarioCompromisedTerminal:
		return "ring"
	case ScenarioCompromisedCard:
		return "compromise"
	}
	return "unknown"
}

// Event is a single card transaction.
// EventID is dense and follows creation order within the full table.
type Event struct {
	EventID    int64     `json:"eventId"`
	Timestamp  time.Time `json:"timestamp"`
	CustomerID int64     `json:"customerId"`
	TerminalID int64     `json:"terminalId"`
	Amount     float64   `json:"amount"`
	Fraud      bool      `json:"fraud"`
	Scenario   Scenario  `json:"scenario"`

	// TimeSeconds and TimeDays locate the event relative to the simulation start.
	TimeSeconds int64 `json:"timeSeconds"`
	TimeDays    int   `json:"timeDays"`
}

// CustomerProfile holds the spending habits of a simulated customer.
type CustomerProfile struct {
	CustomerID         int64   `json:"customerId"`
	X                  float64 `json:"x"`
	Y                  float64 `json:"y"`
	MeanAmount         float64 `json:"meanAmount"`
	StdAmount          float64 `json:"stdAmount"`
	MeanTxPerDay       float64 `json:"meanTxPerDay"`
	ReachableTerminals []int64 `json:"reachableTerminals"`
}

// TerminalProfile is a point-of-sale location.
type TerminalProfile struct {
	TerminalID int64   `json:"terminalId"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
}

// Standard column names of the transaction table.
const (
	ColTransactionID = "transaction_id"
	ColDatetime      = "tx_datetime"
	ColCustomerID    = "customer_id"
	ColTerminalID    = "terminal_id"
	ColSectorID      = "sector_id"
	ColAmount        = "tx_amount"
	ColFraud         = "tx_fraud"
	ColScenario      = "tx_fraud_scenario"
	ColTimeSeconds   = "tx_time_seconds"
	ColTimeDays      = "tx_time_days"
)
