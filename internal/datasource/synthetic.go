package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/hashing"
	"github.com/opensource-finance/kestrel/internal/simulator"
	"github.com/opensource-finance/kestrel/internal/table"
)

// SyntheticSource simulates transactions.
type SyntheticSource struct {
	cfg  domain.SimulationConfig
	sim  *simulator.Simulator
	repo domain.Repository
}

// NewSynthetic validates the simulation config. With a repository, events
// are stored under a dataset named after the config and reused when present.
func NewSynthetic(cfg domain.SimulationConfig, repo domain.Repository) (*SyntheticSource, error) {
	sim, err := simulator.New(cfg)
	if err != nil {
		return nil, err
	}
	return &SyntheticSource{cfg: cfg, sim: sim, repo: repo}, nil
}

func (s *SyntheticSource) Kind() Kind { return Synthetic }

func (s *SyntheticSource) Params() map[string]any {
	return map[string]any{
		"data_source":                   string(Synthetic),
		"n_customers":                   s.cfg.NCustomers,
		"n_terminals":                   s.cfg.NTerminals,
		"geo_low":                       s.cfg.GeoLow,
		"geo_high":                      s.cfg.GeoHigh,
		"amount_low":                    s.cfg.AmountLow,
		"amount_high":                   s.cfg.AmountHigh,
		"tx_low":                        s.cfg.TxLow,
		"tx_high":                       s.cfg.TxHigh,
		"start_date":                    s.cfg.StartDate,
		"nb_days":                       s.cfg.NbDays,
		"radius":                        s.cfg.Radius,
		"seed":                          s.cfg.Seed,
		"baseline_rule":                 s.cfg.BaselineRule,
		"compromised_terminals_per_day": s.cfg.CompromisedTerminalsPerDay,
		"terminal_compromise_days":      s.cfg.TerminalCompromiseDays,
		"compromised_customers_per_day": s.cfg.CompromisedCustomersPerDay,
		"customer_compromise_days":      s.cfg.CustomerCompromiseDays,
		"compromised_amount_factor":     s.cfg.CompromisedAmountFactor,
	}
}

// Dataset is the repository dataset name of this simulation.
func (s *SyntheticSource) Dataset() string {
	return fmt.Sprintf("synthetic-%s", hashing.New().Map(s.Params()).Sum())
}

// Load simulates the events, or reloads them from the repository.
func (s *SyntheticSource) Load(ctx context.Context) (*table.Table, error) {
	started := time.Now()
	events, err := s.events(ctx)
	if err != nil {
		return nil, err
	}
	t, err := simulator.ToTable(events)
	if err != nil {
		return nil, err
	}
	logStage("load", Synthetic, t.Len(), started)
	return t, nil
}

func (s *SyntheticSource) events(ctx context.Context) ([]domain.Event, error) {
	if s.repo != nil {
		stored, err := s.repo.ListEvents(ctx, s.Dataset())
		if err != nil {
			return nil, fmt.Errorf("failed to reload events: %w", err)
		}
		if len(stored) > 0 {
			slog.Debug("reusing stored simulation", "dataset", s.Dataset(), "rows", len(stored))
			return stored, nil
		}
	}

	res, err := s.sim.Run(ctx)
	if err != nil {
		return nil, err
	}
	if s.repo != nil {
		if err := s.repo.SaveEvents(ctx, s.Dataset(), res.Events); err != nil {
			return nil, fmt.Errorf("failed to persist events: %w", err)
		}
	}
	return res.Events, nil
}

// Preprocess adds the calendar flags, customer spending aggregates and
// delayed terminal fraud rates.
func (s *SyntheticSource) Preprocess(ctx context.Context, t *table.Table) (*table.Table, error) {
	started := time.Now()
	out, err := features.WithCalendarFlags(t, domain.ColDatetime)
	if err != nil {
		return nil, err
	}
	if out, err = customerSpending(ctx, out); err != nil {
		return nil, err
	}
	if out, err = fraudRate(ctx, out, domain.ColTerminalID); err != nil {
		return nil, err
	}
	logStage("preprocess", Synthetic, out.Len(), started)
	return out, nil
}
