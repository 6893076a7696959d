package schema

import "github.com/opensource-finance/kestrel/internal/domain"

// Built-in schema names.
const (
	SyntheticFeatures = "synthetic.features"
	LocalFeatures     = "local.features"
	Target            = "target"
	Timestamp         = "timestamp"
	Customer          = "customer"
)

func floats(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Type: Float}
	}
	return cols
}

var customerAmount = floats(
	"customer_id_mean_tx_amount_1_days",
	"customer_id_count_tx_amount_1_days",
	"customer_id_mean_tx_amount_7_days",
	"customer_id_count_tx_amount_7_days",
	"customer_id_mean_tx_amount_30_days",
	"customer_id_count_tx_amount_30_days",
)

var calendar = []Column{
	{Name: domain.ColAmount, Type: Float},
	{Name: "is_weekday", Type: Int},
	{Name: "is_night", Type: Int},
}

var catalogue = map[string]Schema{
	SyntheticFeatures: {
		Name: SyntheticFeatures,
		Columns: concat(calendar, customerAmount, floats(
			"terminal_id_mean_tx_fraud_1_days",
			"terminal_id_mean_tx_fraud_7_days",
			"terminal_id_mean_tx_fraud_30_days",
		)),
	},
	LocalFeatures: {
		Name: LocalFeatures,
		Columns: concat(calendar, customerAmount, floats(
			"time_since_last_tx",
			"customer_id_mean_time_since_last_tx_1_days",
			"customer_id_mean_time_since_last_tx_7_days",
			"sector_id_mean_tx_fraud_1_days",
			"sector_id_mean_tx_fraud_7_days",
			"sector_id_mean_tx_fraud_30_days",
			"customer_id_mean_tx_fraud_1_days",
			"customer_id_mean_tx_fraud_7_days",
			"customer_id_mean_tx_fraud_30_days",
		)),
	},
	Target:    {Name: Target, Columns: []Column{{Name: domain.ColFraud, Type: Int}}},
	Timestamp: {Name: Timestamp, Columns: []Column{{Name: domain.ColDatetime, Type: DateTime}}},
	Customer:  {Name: Customer, Columns: []Column{{Name: domain.ColCustomerID, Type: Int}}},
}

func concat(parts ...[]Column) []Column {
	var out []Column
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Get returns a built-in schema by name.
func Get(name string) (Schema, error) {
	s, ok := catalogue[name]
	if !ok {
		return Schema{}, domain.Configurationf("unknown schema %q", name)
	}
	return s, nil
}

// Features returns the feature schema of a data source.
func Features(dataSource string) (Schema, error) {
	return Get(dataSource + ".features")
}
