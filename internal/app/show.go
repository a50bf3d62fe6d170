package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"pool-risk-alerts/internal/storage"
)

// Show prints the newest assessment per pool and recent alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	assessments, err := store.ListLatestAssessments(ctx)
	if err != nil {
		return err
	}

	if len(assessments) == 0 {
		fmt.Fprintln(os.Stdout, "no assessments found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Pool\tScore\tLevel\tEWS\tTop Reason\tModel\tProduced (UTC)")
		for _, row := range assessments {
			ews := "-"
			if row.EarlyWarningScore != nil {
				ews = fmt.Sprintf("%.1f", *row.EarlyWarningScore)
			}
			reason := "-"
			if len(row.TopReasons) > 0 {
				reason = row.TopReasons[0].Feature
			}
			fmt.Fprintf(
				writer,
				"%s\t%.2f\t%s\t%s\t%s\t%s\t%s\n",
				row.PoolID,
				row.RiskScore,
				row.RiskLevel,
				ews,
				reason,
				row.ModelVersion,
				row.ProducedAt.UTC().Format(time.RFC3339),
			)
		}
		writer.Flush()
	}

	limit := opts.AlertLimit
	if limit <= 0 {
		limit = 20
	}
	alerts, err := store.ListAlerts(ctx, storage.AlertFilter{Limit: limit})
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "\nno alerts found")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPool\tType\tScore\tLevel\tStatus\tMessage")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.PoolID,
			alert.AlertType,
			alert.RiskScore,
			alert.RiskLevel,
			alert.Status,
			sanitizeInline(alert.Message),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
