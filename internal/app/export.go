package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"pool-risk-alerts/internal/storage"
)

// Export renders one pool's risk history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.PoolID == "" {
		return errors.New("--pool is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	assessments, err := store.ListPoolAssessmentsBetween(ctx, opts.PoolID, from, to)
	if err != nil {
		return err
	}
	if len(assessments) == 0 {
		a.Logger.Info().Str("pool_id", opts.PoolID).Msg("no assessments found for export window")
		return nil
	}

	downsampled := downsampleAssessments(assessments, opts.MaxPoints)
	a.Logger.Info().
		Str("pool_id", opts.PoolID).
		Int("total", len(assessments)).
		Int("exported", len(downsampled)).
		Msg("exporting risk history")

	if opts.CSVPath != "" {
		if err := writeAssessmentsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeAssessmentsPNG(opts.PNGPath, opts.PoolID, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func downsampleAssessments(rows []storage.RiskAssessment, max int) []storage.RiskAssessment {
	if max <= 0 || len(rows) <= max {
		return rows
	}

	result := make([]storage.RiskAssessment, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeAssessmentsCSV(path string, rows []storage.RiskAssessment) error {
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

	header := []string{"produced_at", "pool_id", "risk_score", "risk_level", "early_warning_score", "top_reason", "model_version", "horizon"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		ews := ""
		if row.EarlyWarningScore != nil {
			ews = fmt.Sprintf("%.2f", *row.EarlyWarningScore)
		}
		reason := ""
		if len(row.TopReasons) > 0 {
			reason = row.TopReasons[0].Feature
		}
		record := []string{
			row.ProducedAt.UTC().Format(time.RFC3339),
			row.PoolID,
			fmt.Sprintf("%.2f", row.RiskScore),
			string(row.RiskLevel),
			ews,
			reason,
			row.ModelVersion,
			row.Horizon,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeAssessmentsPNG(path, poolID string, rows []storage.RiskAssessment) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	scores := make([]float64, len(rows))
	warnings := make([]float64, len(rows))

	for i, row := range rows {
		x[i] = row.ProducedAt
		scores[i] = row.RiskScore
		if row.EarlyWarningScore != nil {
			warnings[i] = *row.EarlyWarningScore
		}
	}

	scoreFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  fmt.Sprintf("Crash risk: %s", poolID),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Score (0-100)",
			ValueFormatter: scoreFormatter,
			Range:          &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Risk score",
				XValues: x,
				YValues: scores,
			},
			chart.TimeSeries{
				Name:    "Early warning",
				XValues: x,
				YValues: warnings,
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

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
