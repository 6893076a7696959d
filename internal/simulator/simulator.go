// Package simulator generates synthetic card transactions: customer and
// terminal profiles, daily spending, and three layered fraud scenarios.
// Every random draw is seeded so a run is reproducible from its config.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const secondsPerDay = 86400

// RNG streams. Each stream is combined with an entity or day number so
// that draws for one customer or day never depend on another.
const (
	streamCustomers uint64 = iota + 1
	streamTerminals
	streamSpending
	streamTerminalCompromise
	streamCardCompromise
	streamCardSelection
)

// Result is the output of a simulation run.
type Result struct {
	Customers []domain.CustomerProfile
	Terminals []domain.TerminalProfile
	Events    []domain.Event
}

// Simulator generates transaction streams.
type Simulator struct {
	cfg      domain.SimulationConfig
	start    time.Time
	baseline *rules.Predicate
}

// New validates the configuration and compiles the baseline rule.
func New(cfg domain.SimulationConfig) (*Simulator, error) {
	if cfg.NCustomers <= 0 || cfg.NTerminals <= 0 {
		return nil, domain.InvalidParameterf("need at least one customer and one terminal, got %d and %d", cfg.NCustomers, cfg.NTerminals)
	}
	if cfg.NbDays <= 0 {
		return nil, domain.InvalidParameterf("nb_days must be positive, got %d", cfg.NbDays)
	}
	if cfg.Radius < 0 {
		return nil, domain.InvalidParameterf("radius must be non-negative, got %v", cfg.Radius)
	}
	for _, b := range [][2]float64{{cfg.GeoLow, cfg.GeoHigh}, {cfg.AmountLow, cfg.AmountHigh}, {cfg.TxLow, cfg.TxHigh}} {
		if b[0] > b[1] || b[0] < 0 {
			return nil, domain.InvalidParameterf("invalid uniform bounds [%v, %v]", b[0], b[1])
		}
	}
	if cfg.CompromisedTerminalsPerDay > cfg.NTerminals || cfg.CompromisedCustomersPerDay > cfg.NCustomers {
		return nil, domain.InvalidParameterf("cannot compromise more entities than simulated")
	}
	if cfg.CompromisedTerminalsPerDay < 0 || cfg.CompromisedCustomersPerDay < 0 ||
		cfg.TerminalCompromiseDays < 0 || cfg.CustomerCompromiseDays < 0 {
		return nil, domain.InvalidParameterf("compromise counts and durations must be non-negative")
	}

	start, err := time.ParseInLocation(time.DateOnly, cfg.StartDate, time.UTC)
	if err != nil {
		return nil, domain.Configurationf("invalid start date %q: %v", cfg.StartDate, err)
	}

	expr := cfg.BaselineRule
	if expr == "" {
		expr = rules.BaselineExpression
	}
	baseline, err := rules.CompilePredicate(expr)
	if err != nil {
		return nil, err
	}

	return &Simulator{cfg: cfg, start: start, baseline: baseline}, nil
}

// Start returns the first simulated day.
func (s *Simulator) Start() time.Time { return s.start }

// Run generates profiles and events, then injects fraud.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	started := time.Now()

	terminals := s.TerminalProfiles()
	customers := s.CustomerProfiles()
	for i := range customers {
		customers[i].ReachableTerminals = ReachableTerminals(customers[i].X, customers[i].Y, terminals, s.cfg.Radius)
	}

	events, err := s.Generate(ctx, customers)
	if err != nil {
		return nil, err
	}
	if err := s.InjectFraud(events, customers, terminals); err != nil {
		return nil, err
	}

	frauds := 0
	for _, ev := range events {
		if ev.Fraud {
			frauds++
		}
	}
	slog.Info("simulated transactions",
		"customers", len(customers),
		"terminals", len(terminals),
		"rows", len(events),
		"frauds", frauds,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return &Result{Customers: customers, Terminals: terminals, Events: events}, nil
}

func (s *Simulator) rng(stream, n uint64) *rand.Rand {
	return rand.New(rand.NewPCG(s.cfg.Seed, stream<<48|n))
}

// CustomerProfiles draws each customer's location, spending and frequency
// from uniform distributions. The standard deviation is half the mean.
func (s *Simulator) CustomerProfiles() []domain.CustomerProfile {
	r := s.rng(streamCustomers, 0)
	out := make([]domain.CustomerProfile, s.cfg.NCustomers)
	for i := range out {
		mean := uniform(r, s.cfg.AmountLow, s.cfg.AmountHigh)
		out[i] = domain.CustomerProfile{
			CustomerID:   int64(i),
			X:            uniform(r, s.cfg.GeoLow, s.cfg.GeoHigh),
			Y:            uniform(r, s.cfg.GeoLow, s.cfg.GeoHigh),
			MeanAmount:   mean,
			StdAmount:    mean / 2,
			MeanTxPerDay: uniform(r, s.cfg.TxLow, s.cfg.TxHigh),
		}
	}
	return out
}

// TerminalProfiles draws terminal locations uniformly.
func (s *Simulator) TerminalProfiles() []domain.TerminalProfile {
	r := s.rng(streamTerminals, 0)
	out := make([]domain.TerminalProfile, s.cfg.NTerminals)
	for i := range out {
		out[i] = domain.TerminalProfile{
			TerminalID: int64(i),
			X:          uniform(r, s.cfg.GeoLow, s.cfg.GeoHigh),
			Y:          uniform(r, s.cfg.GeoLow, s.cfg.GeoHigh),
		}
	}
	return out
}

// ReachableTerminals returns the ids of the terminals within Euclidean
// distance radius of (x, y), in terminal order.
func ReachableTerminals(x, y float64, terminals []domain.TerminalProfile, radius float64) []int64 {
	var out []int64
	for _, t := range terminals {
		if math.Hypot(t.X-x, t.Y-y) < radius {
			out = append(out, t.TerminalID)
		}
	}
	return out
}

// Generate simulates the daily transactions of every customer and returns
// them sorted by time with dense event ids. Fraud labels are all false.
func (s *Simulator) Generate(ctx context.Context, customers []domain.CustomerProfile) ([]domain.Event, error) {
	var events []domain.Event
	for _, c := range customers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		events = append(events, s.customerEvents(c)...)
	}

	slices.SortStableFunc(events, func(a, b domain.Event) int {
		switch {
		case a.TimeSeconds < b.TimeSeconds:
			return -1
		case a.TimeSeconds > b.TimeSeconds:
			return 1
		}
		return 0
	})
	for i := range events {
		events[i].EventID = int64(i)
	}
	return events, nil
}

func (s *Simulator) customerEvents(c domain.CustomerProfile) []domain.Event {
	r := s.rng(streamSpending, uint64(c.CustomerID))
	var out []domain.Event
	for day := 0; day < s.cfg.NbDays; day++ {
		n := poisson(r, c.MeanTxPerDay)
		for j := 0; j < n; j++ {
			// Time of day centred on noon; draws outside the day are dropped.
			tod := int64(math.Round(r.NormFloat64()*20000 + secondsPerDay/2))
			if tod <= 0 || tod >= secondsPerDay {
				continue
			}

			amount := r.NormFloat64()*c.StdAmount + c.MeanAmount
			if amount < 0 {
				amount = uniform(r, 0, c.MeanAmount*2)
			}
			amount = roundCents(amount)

			if len(c.ReachableTerminals) == 0 {
				continue
			}
			terminal := c.ReachableTerminals[r.IntN(len(c.ReachableTerminals))]

			secs := int64(day)*secondsPerDay + tod
			out = append(out, domain.Event{
				Timestamp:   s.start.Add(time.Duration(secs) * time.Second),
				CustomerID:  c.CustomerID,
				TerminalID:  terminal,
				Amount:      amount,
				TimeSeconds: secs,
				TimeDays:    day,
			})
		}
	}
	return out
}

// InjectFraud applies the three fraud scenarios in order. Later scenarios
// may relabel or amplify events already flagged by earlier ones.
func (s *Simulator) InjectFraud(events []domain.Event, customers []domain.CustomerProfile, terminals []domain.TerminalProfile) error {
	if err := s.injectBaseline(events); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	maxDay := 0
	for _, ev := range events {
		maxDay = max(maxDay, ev.TimeDays)
	}
	s.injectCompromisedTerminals(events, terminals, maxDay)
	s.injectCompromisedCards(events, customers, maxDay)
	return nil
}

func (s *Simulator) injectBaseline(events []domain.Event) error {
	for i := range events {
		ok, err := s.baseline.Match(events[i])
		if err != nil {
			return fmt.Errorf("baseline scenario: %w", err)
		}
		if ok {
			events[i].Fraud = true
			events[i].Scenario = domain.ScenarioBaseline
		}
	}
	return nil
}

// injectCompromisedTerminals picks terminals each day and flags all their
// transactions over the following TerminalCompromiseDays days.
func (s *Simulator) injectCompromisedTerminals(events []domain.Event, terminals []domain.TerminalProfile, maxDay int) {
	for day := 0; day < maxDay; day++ {
		r := s.rng(streamTerminalCompromise, uint64(day))
		compromised := make(map[int64]bool)
		for _, i := range sample(r, len(terminals), s.cfg.CompromisedTerminalsPerDay) {
			compromised[terminals[i].TerminalID] = true
		}
		for i := range events {
			ev := &events[i]
			if ev.TimeDays >= day && ev.TimeDays < day+s.cfg.TerminalCompromiseDays && compromised[ev.TerminalID] {
				ev.Fraud = true
				ev.Scenario = domain.ScenarioCompromisedTerminal
			}
		}
	}
}

// injectCompromisedCards picks customers each day; over the following
// CustomerCompromiseDays days a third of their transactions are amplified
// and flagged.
func (s *Simulator) injectCompromisedCards(events []domain.Event, customers []domain.CustomerProfile, maxDay int) {
	factor := decimal.NewFromFloat(s.cfg.CompromisedAmountFactor)
	for day := 0; day < maxDay; day++ {
		r := s.rng(streamCardCompromise, uint64(day))
		compromised := make(map[int64]bool)
		for _, i := range sample(r, len(customers), s.cfg.CompromisedCustomersPerDay) {
			compromised[customers[i].CustomerID] = true
		}

		var window []int
		for i, ev := range events {
			if ev.TimeDays >= day && ev.TimeDays < day+s.cfg.CustomerCompromiseDays && compromised[ev.CustomerID] {
				window = append(window, i)
			}
		}

		pick := s.rng(streamCardSelection, uint64(day))
		for _, k := range sample(pick, len(window), len(window)/3) {
			ev := &events[window[k]]
			ev.Amount = decimal.NewFromFloat(ev.Amount).Mul(factor).Round(2).InexactFloat64()
			ev.Fraud = true
			ev.Scenario = domain.ScenarioCompromisedCard
		}
	}
}

func uniform(r *rand.Rand, low, high float64) float64 {
	return low + r.Float64()*(high-low)
}

func roundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// poisson draws from a Poisson distribution with Knuth's method.
func poisson(r *rand.Rand, lambda float64) int {
	if lambda <= 0 {
		return 0
	}
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= r.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

// sample returns k distinct positions out of n, in draw order.
func sample(r *rand.Rand, n, k int) []int {
	k = min(k, n)
	if k <= 0 {
		return nil
	}
	return r.Perm(n)[:k]
}
