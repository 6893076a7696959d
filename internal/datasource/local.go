package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/table"
)

// localColumns maps the CSV header onto table columns.
var localColumns = map[string]string{
	"customer_id": domain.ColCustomerID,
	"tx_datetime": domain.ColDatetime,
	"sector_id":   domain.ColSectorID,
	"tx_fraud":    domain.ColFraud,
	"tx_amount":   domain.ColAmount,
}

// datetimeLayouts are tried in order for TX_DATETIME.
var datetimeLayouts = []string{
	time.DateTime,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// LocalSource reads transactions from a CSV file with the columns
// CUSTOMER_ID, TX_DATETIME, SECTOR_ID, TX_FRAUD and TX_AMOUNT.
type LocalSource struct {
	path string
}

// NewLocal returns a source for the CSV file at path.
func NewLocal(path string) (*LocalSource, error) {
	if path == "" {
		return nil, domain.Configurationf("local data source requires a file path")
	}
	return &LocalSource{path: path}, nil
}

func (s *LocalSource) Kind() Kind { return Local }

func (s *LocalSource) Params() map[string]any {
	p := map[string]any{"data_source": string(Local), "path": s.path}
	if info, err := os.Stat(s.path); err == nil {
		p["size"] = info.Size()
		p["mod_time"] = info.ModTime().UTC()
	}
	return p
}

// Load reads the CSV file. Rows get a dense index in file order.
func (s *LocalSource) Load(ctx context.Context) (*table.Table, error) {
	started := time.Now()
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer file.Close()

	t, err := ReadCSV(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	logStage("load", Local, t.Len(), started)
	return t, nil
}

// ReadCSV parses the local transaction format.
func ReadCSV(ctx context.Context, r io.Reader) (*table.Table, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, domain.Validationf("failed to read header: %v", err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for name := range localColumns {
		if _, ok := colIndex[name]; !ok {
			return nil, domain.Validationf("missing column %s", strings.ToUpper(name))
		}
	}

	var (
		times                             []time.Time
		customers, sectors, fraud, amount []float64
	)
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, domain.Validationf("line %d: %v", line, err)
		}
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		ts, err := parseDatetime(record[colIndex["tx_datetime"]])
		if err != nil {
			return nil, domain.Validationf("line %d: %v", line, err)
		}
		nums := make([]float64, 0, 4)
		for _, name := range []string{"customer_id", "sector_id", "tx_fraud", "tx_amount"} {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[colIndex[name]]), 64)
			if err != nil {
				return nil, domain.Validationf("line %d: column %s: %v", line, strings.ToUpper(name), err)
			}
			nums = append(nums, v)
		}

		times = append(times, ts)
		customers = append(customers, nums[0])
		sectors = append(sectors, nums[1])
		fraud = append(fraud, nums[2])
		amount = append(amount, nums[3])
	}
	if len(times) == 0 {
		return nil, domain.Validationf("no transactions")
	}

	t, err := table.New(len(times)).WithTimes(localColumns["tx_datetime"], times)
	if err != nil {
		return nil, err
	}
	for _, c := range []struct {
		name   string
		values []float64
	}{
		{domain.ColCustomerID, customers},
		{domain.ColSectorID, sectors},
		{domain.ColFraud, fraud},
		{domain.ColAmount, amount},
	} {
		if t, err = t.WithFloats(c.name, c.values); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised datetime %q", s)
}

// Preprocess adds the calendar flags, time since the previous transaction
// and its customer means, customer spending aggregates and delayed sector
// and customer fraud rates. Remaining NaN values are filled with 0.
func (s *LocalSource) Preprocess(ctx context.Context, t *table.Table) (*table.Table, error) {
	started := time.Now()
	out, err := features.WithCalendarFlags(t, domain.ColDatetime)
	if err != nil {
		return nil, err
	}
	if out, err = features.TimeSinceLast(out, domain.ColCustomerID, domain.ColDatetime); err != nil {
		return nil, err
	}
	if out, err = customerSpending(ctx, out); err != nil {
		return nil, err
	}
	out, err = features.Aggregate(ctx, out, features.Spec{
		GroupKey: domain.ColCustomerID,
		TimeKey:  domain.ColDatetime,
		Feature:  "time_since_last_tx",
		Windows:  []int{1, 7},
		Funcs:    []features.AggFunc{features.Mean},
	})
	if err != nil {
		return nil, err
	}
	for _, group := range []string{domain.ColSectorID, domain.ColCustomerID} {
		if out, err = fraudRate(ctx, out, group); err != nil {
			return nil, err
		}
	}
	if out, err = features.FillNaN(out, 0); err != nil {
		return nil, err
	}
	logStage("preprocess", Local, out.Len(), started)
	return out, nil
}
