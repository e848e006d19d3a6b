package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"overdue-loan-alerts/internal/storage"
)

// Export renders the alert history as CSV and/or an alerts-per-day PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	alerts, err := store.ListAlertsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		a.Logger.Info().Msg("no alerts found for export window")
		return nil
	}

	if len(alerts) > opts.MaxPoints {
		alerts = alerts[len(alerts)-opts.MaxPoints:]
	}
	a.Logger.Info().Int("exported", len(alerts)).Msg("exporting alerts")

	if opts.CSVPath != "" {
		if err := writeAlertsCSV(opts.CSVPath, alerts); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeAlertsPNG(opts.PNGPath, alerts); err != nil {
			return err
		}
	}

	return nil
}

func writeAlertsCSV(path string, alerts []storage.AlertRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "chain_id", "bid_id", "borrower", "token_symbol", "principal", "next_due_date", "status", "endpoint"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, alert := range alerts {
		record := []string{
			alert.CreatedAt.UTC().Format(time.RFC3339),
			fmtInt(alert.ChainID),
			alert.BidID,
			alert.Borrower,
			alert.TokenSymbol,
			alert.Principal.String(),
			alert.NextDueDate.UTC().Format(time.RFC3339),
			alert.Status,
			alert.Endpoint,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeAlertsPNG(path string, alerts []storage.AlertRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	days, counts := alertsPerDay(alerts)

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Alerts per day",
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Overdue alerts",
				XValues: days,
				YValues: counts,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func alertsPerDay(alerts []storage.AlertRecord) ([]time.Time, []float64) {
	buckets := make(map[time.Time]float64)
	for _, alert := range alerts {
		day := alert.CreatedAt.UTC().Truncate(24 * time.Hour)
		buckets[day]++
	}

	days := make([]time.Time, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	counts := make([]float64, len(days))
	for i, day := range days {
		counts[i] = buckets[day]
	}
	return days, counts
}

func fmtInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
