package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jask/budgettracker/internal/analytics"
	"github.com/jask/budgettracker/internal/config"
	"github.com/jask/budgettracker/internal/database/repository"
	"github.com/jask/budgettracker/internal/ledgererr"
	"github.com/jask/budgettracker/internal/service"
)

func newStatsCommand(a *app) *cobra.Command {
	var from, to string
	var percentiles []float64
	var includeTaxes bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Totals, percentiles, ratios, spread and category shares for a date range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := analytics.ReportRequest{IncludeTaxes: includeTaxes, Percentiles: percentiles}
			var err error
			if req.From, err = a.parseDay("from", from, false); err != nil {
				return err
			}
			if req.To, err = a.parseDay("to", to, true); err != nil {
				return err
			}
			svc, err := a.analyticsService()
			if err != nil {
				return err
			}
			rep, err := svc.Report(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.print(rep)
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "first booking day, YYYY-MM-DD")
	f.StringVar(&to, "to", "", "last booking day, YYYY-MM-DD")
	f.Float64SliceVar(&percentiles, "percentiles", nil, "percentiles in [0,100] (default 10,25,50,75,90)")
	f.BoolVar(&includeTaxes, "include-taxes", false, "count tax lines as expenditure")
	return cmd
}

func newForecastCommand(a *app) *cobra.Command {
	var month, asOf string
	var includeTaxes bool
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Project month-end expenditure from the daily mean so far",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc := a.cfg.Location()
			ref := time.Now().In(loc)
			if strings.TrimSpace(asOf) != "" {
				var err error
				if ref, err = a.parseDay("as-of", asOf, true); err != nil {
					return err
				}
			}
			year, mon := ref.Year(), ref.Month()
			if strings.TrimSpace(month) != "" {
				m, err := time.ParseInLocation("2006-01", strings.TrimSpace(month), loc)
				if err != nil {
					return ledgererr.Validation("parse flags", "--month %q: want YYYY-MM", month)
				}
				year, mon = m.Year(), m.Month()
			}
			svc, err := a.analyticsService()
			if err != nil {
				return err
			}
			f, err := svc.Forecast(cmd.Context(), year, mon, ref, includeTaxes)
			if err != nil {
				return err
			}
			return a.print(f)
		},
	}
	f := cmd.Flags()
	f.StringVar(&month, "month", "", "month to forecast, YYYY-MM (default the as-of month)")
	f.StringVar(&asOf, "as-of", "", "count rows booked up to this day, YYYY-MM-DD (default today)")
	f.BoolVar(&includeTaxes, "include-taxes", false, "count tax lines as expenditure")
	return cmd
}

func newDiagnoseCommand(a *app) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Report orphan tax lines and ambiguous parents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var f repository.Filter
			var err error
			if f.From, err = a.parseDay("from", from, false); err != nil {
				return err
			}
			if f.To, err = a.parseDay("to", to, true); err != nil {
				return err
			}
			svc, err := a.queryService()
			if err != nil {
				return err
			}
			found, err := svc.Diagnose(cmd.Context(), f)
			if err != nil {
				return err
			}
			if found == nil {
				found = []service.Anomaly{}
			}
			return a.print(map[string]interface{}{"anomalies": found, "count": len(found)})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first booking day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last booking day, YYYY-MM-DD")
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show schema version and row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.maintenance()
			if err != nil {
				return err
			}
			st, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(st)
		},
	}
}

func newResetCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return ledgererr.Validation("reset", "refusing to delete without --yes")
			}
			m, err := a.maintenance()
			if err != nil {
				return err
			}
			n, err := m.Reset(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(map[string]int64{"removed": n})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func newConfigCommand(a *app) *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration, or write it back to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if write {
				if err := config.Save(a.cfgPath, a.cfg); err != nil {
					return err
				}
			}
			shown := a.cfg
			if shown.Annotation.APIKey != "" {
				shown.Annotation.APIKey = "(set)"
			}
			return a.print(shown)
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "persist the effective settings; the api key is never written")
	return cmd
}
