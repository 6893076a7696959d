package simulator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func smallConfig() domain.SimulationConfig {
	cfg := domain.DefaultSimulationConfig()
	cfg.NCustomers = 50
	cfg.NTerminals = 100
	cfg.NbDays = 20
	cfg.Radius = 30
	return cfg
}

func TestCustomerProfilesWithinBounds(t *testing.T) {
	cfg := smallConfig()
	cfg.AmountHigh = 50
	sim, err := New(cfg)
	require.NoError(t, err)

	profiles := sim.CustomerProfiles()
	require.Len(t, profiles, cfg.NCustomers)
	for i, p := range profiles {
		assert.Equal(t, int64(i), p.CustomerID)
		assert.True(t, p.X >= 0 && p.X <= 100)
		assert.True(t, p.Y >= 0 && p.Y <= 100)
		assert.True(t, p.MeanAmount >= 5 && p.MeanAmount <= 50)
		assert.Equal(t, p.MeanAmount/2, p.StdAmount)
		assert.True(t, p.MeanTxPerDay >= 0 && p.MeanTxPerDay <= 4)
	}
}

func TestTerminalProfilesWithinBounds(t *testing.T) {
	sim, err := New(smallConfig())
	require.NoError(t, err)

	terminals := sim.TerminalProfiles()
	require.Len(t, terminals, 100)
	for _, term := range terminals {
		assert.True(t, term.X >= 0 && term.X <= 100)
		assert.True(t, term.Y >= 0 && term.Y <= 100)
	}
}

func TestReachableTerminals(t *testing.T) {
	terminals := []domain.TerminalProfile{
		{TerminalID: 0, X: 54.88, Y: 71.52},
		{TerminalID: 1, X: 60.28, Y: 54.49},
		{TerminalID: 2, X: 42.37, Y: 64.59},
		{TerminalID: 3, X: 43.76, Y: 89.18},
		{TerminalID: 4, X: 96.37, Y: 38.34},
	}
	got := ReachableTerminals(83.26, 77.82, terminals, 35)
	assert.Equal(t, []int64{0, 1}, got)

	assert.Empty(t, ReachableTerminals(0, 0, terminals, 1))
}

func TestRunIsDeterministic(t *testing.T) {
	ctx := context.Background()
	sim, err := New(smallConfig())
	require.NoError(t, err)

	a, err := sim.Run(ctx)
	require.NoError(t, err)
	b, err := sim.Run(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, a.Events)
	assert.Equal(t, a.Events, b.Events)

	other := smallConfig()
	other.Seed = 42
	sim2, err := New(other)
	require.NoError(t, err)
	c, err := sim2.Run(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, a.Events, c.Events)
}

func TestGeneratedEvents(t *testing.T) {
	sim, err := New(smallConfig())
	require.NoError(t, err)
	res, err := sim.Run(context.Background())
	require.NoError(t, err)

	reachable := make(map[int64]map[int64]bool)
	for _, c := range res.Customers {
		reachable[c.CustomerID] = make(map[int64]bool)
		for _, id := range c.ReachableTerminals {
			reachable[c.CustomerID][id] = true
		}
	}

	for i, ev := range res.Events {
		assert.Equal(t, int64(i), ev.EventID)
		if i > 0 {
			assert.GreaterOrEqual(t, ev.TimeSeconds, res.Events[i-1].TimeSeconds)
		}
		assert.Equal(t, int(ev.TimeSeconds/secondsPerDay), ev.TimeDays)
		assert.True(t, ev.TimeSeconds%secondsPerDay > 0)
		assert.True(t, ev.Amount >= 0)
		assert.True(t, reachable[ev.CustomerID][ev.TerminalID], "terminal %d not reachable by %d", ev.TerminalID, ev.CustomerID)
		assert.Equal(t, sim.Start().Unix()+ev.TimeSeconds, ev.Timestamp.Unix())
		assert.Equal(t, ev.Fraud, ev.Scenario != domain.ScenarioNone)
	}
}

func TestInjectFraudScenarios(t *testing.T) {
	cfg := smallConfig()
	sim, err := New(cfg)
	require.NoError(t, err)

	customers := []domain.CustomerProfile{{CustomerID: 0}, {CustomerID: 1}}
	terminals := []domain.TerminalProfile{{TerminalID: 0}, {TerminalID: 1}}

	t.Run("Baseline", func(t *testing.T) {
		events := []domain.Event{{Amount: 300}, {Amount: 20}}
		cfg := cfg
		cfg.CompromisedTerminalsPerDay = 0
		cfg.CompromisedCustomersPerDay = 0
		s, err := New(cfg)
		require.NoError(t, err)
		require.NoError(t, s.InjectFraud(events, customers, terminals))
		assert.True(t, events[0].Fraud)
		assert.Equal(t, domain.ScenarioBaseline, events[0].Scenario)
		assert.False(t, events[1].Fraud)
	})

	t.Run("AllTerminalsCompromised", func(t *testing.T) {
		cfg := cfg
		cfg.NTerminals = 2
		cfg.CompromisedTerminalsPerDay = 2
		cfg.TerminalCompromiseDays = 1
		cfg.CompromisedCustomersPerDay = 0
		s, err := New(cfg)
		require.NoError(t, err)

		// The last day is never a draw day, so only day 0 events are hit.
		events := []domain.Event{
			{TerminalID: 0, TimeDays: 0, Amount: 10},
			{TerminalID: 1, TimeDays: 1, Amount: 10},
		}
		require.NoError(t, s.InjectFraud(events, customers, terminals))
		assert.Equal(t, domain.ScenarioCompromisedTerminal, events[0].Scenario)
		assert.False(t, events[1].Fraud)
	})

	t.Run("CompromisedCardAmplifiesAThird", func(t *testing.T) {
		cfg := cfg
		cfg.NCustomers = 1
		cfg.CompromisedTerminalsPerDay = 0
		cfg.CompromisedCustomersPerDay = 1
		cfg.CustomerCompromiseDays = 1
		s, err := New(cfg)
		require.NoError(t, err)

		events := make([]domain.Event, 6)
		for i := range events {
			events[i] = domain.Event{CustomerID: 0, Amount: 10.5, TimeDays: 0}
		}
		events = append(events, domain.Event{CustomerID: 0, Amount: 10, TimeDays: 1})
		require.NoError(t, s.InjectFraud(events, customers[:1], terminals))

		flagged := 0
		for _, ev := range events[:6] {
			if ev.Fraud {
				flagged++
				assert.Equal(t, domain.ScenarioCompromisedCard, ev.Scenario)
				assert.Equal(t, 52.5, ev.Amount)
			} else {
				assert.Equal(t, 10.5, ev.Amount)
			}
		}
		assert.Equal(t, 2, flagged)
		assert.False(t, events[6].Fraud)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.NoError(t, sim.InjectFraud(nil, customers, terminals))
	})
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.SimulationConfig)
		target error
	}{
		{"NoCustomers", func(c *domain.SimulationConfig) { c.NCustomers = 0 }, domain.ErrInvalidParameter},
		{"NoDays", func(c *domain.SimulationConfig) { c.NbDays = 0 }, domain.ErrInvalidParameter},
		{"InvertedBounds", func(c *domain.SimulationConfig) { c.AmountLow = 200 }, domain.ErrInvalidParameter},
		{"TooManyCompromised", func(c *domain.SimulationConfig) { c.CompromisedTerminalsPerDay = 1000 }, domain.ErrInvalidParameter},
		{"BadDate", func(c *domain.SimulationConfig) { c.StartDate = "30/09/2023" }, domain.ErrConfiguration},
		{"BadRule", func(c *domain.SimulationConfig) { c.BaselineRule = "amount >" }, domain.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestToTable(t *testing.T) {
	sim, err := New(smallConfig())
	require.NoError(t, err)
	res, err := sim.Run(context.Background())
	require.NoError(t, err)

	tbl, err := ToTable(res.Events)
	require.NoError(t, err)
	assert.Equal(t, len(res.Events), tbl.Len())

	for _, col := range []string{domain.ColDatetime, domain.ColCustomerID, domain.ColTerminalID, domain.ColAmount, domain.ColFraud, domain.ColScenario} {
		assert.True(t, tbl.Has(col), col)
	}
	fraud, err := tbl.Floats(domain.ColFraud)
	require.NoError(t, err)
	for i, ev := range res.Events {
		assert.Equal(t, ev.Fraud, fraud[i] == 1)
	}
	assert.Equal(t, res.Events[len(res.Events)-1].EventID, tbl.Index()[tbl.Len()-1])
}
