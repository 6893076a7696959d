package simulator

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/table"
)

// ToTable lays events out as the raw transaction table, indexed by event id.
func ToTable(events []domain.Event) (*table.Table, error) {
	n := len(events)
	index := make([]int64, n)
	times := make([]time.Time, n)
	customers := make([]float64, n)
	terminals := make([]float64, n)
	amounts := make([]float64, n)
	secs := make([]float64, n)
	days := make([]float64, n)
	fraud := make([]float64, n)
	scenario := make([]float64, n)

	for i, ev := range events {
		index[i] = ev.EventID
		times[i] = ev.Timestamp
		customers[i] = float64(ev.CustomerID)
		terminals[i] = float64(ev.TerminalID)
		amounts[i] = ev.Amount
		secs[i] = float64(ev.TimeSeconds)
		days[i] = float64(ev.TimeDays)
		if ev.Fraud {
			fraud[i] = 1
		}
		scenario[i] = float64(ev.Scenario)
	}

	t, err := table.WithIndex(index).WithTimes(domain.ColDatetime, times)
	if err != nil {
		return nil, err
	}
	for _, c := range []struct {
		name   string
		values []float64
	}{
		{domain.ColCustomerID, customers},
		{domain.ColTerminalID, terminals},
		{domain.ColAmount, amounts},
		{domain.ColTimeSeconds, secs},
		{domain.ColTimeDays, days},
		{domain.ColFraud, fraud},
		{domain.ColScenario, scenario},
	} {
		if t, err = t.WithFloats(c.name, c.values); err != nil {
			return nil, err
		}
	}
	return t, nil
}
