package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jask/budgettracker/internal/database"
	"github.com/jask/budgettracker/internal/database/repository"
	"github.com/jask/budgettracker/internal/ledgererr"
	"github.com/jask/budgettracker/internal/logger"
	"github.com/jask/budgettracker/internal/service"
	"github.com/jask/budgettracker/internal/testdata"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.store(); err != nil {
				return err
			}
			version, dirty, err := database.SchemaVersion(a.cfg.Database.Path)
			if err != nil {
				return errors.Wrap(err, "schema version")
			}
			return a.print(map[string]interface{}{"path": a.cfg.Database.Path, "version": version, "dirty": dirty})
		},
	}
}

type fileResult struct {
	File string `json:"file"`
	service.IngestResult
}

func newIngestCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <statement.csv>...",
		Short: "Import bank statement CSV exports; rows already stored are skipped",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.ingestService()
			if err != nil {
				return err
			}
			out := make([]fileResult, 0, len(args))
			for _, path := range args {
				res, err := svc.ImportFile(cmd.Context(), path)
				if err != nil {
					return err
				}
				log := logger.FromContext(cmd.Context())
				log.Info().
					Str("file", path).Int("inserted", res.Inserted).Int("skipped", res.Skipped).
					Int("anomalies", len(res.Anomalies)).Msg("statement ingested")
				out = append(out, fileResult{File: path, IngestResult: res})
			}
			return a.print(out)
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	var (
		from, to   string
		filter     repository.Filter
		page       repository.Page
		sortField  string
		descending bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List parent transactions with their tax lines nested",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if filter.From, err = a.parseDay("from", from, false); err != nil {
				return err
			}
			if filter.To, err = a.parseDay("to", to, true); err != nil {
				return err
			}
			var sort *repository.Sort
			if sortField != "" || descending {
				sort = &repository.Sort{Field: repository.SortField(sortField), Desc: descending}
				if sort.Field == "" {
					sort.Field = repository.SortBookingDate
				}
			}
			svc, err := a.queryService()
			if err != nil {
				return err
			}
			res, err := svc.List(cmd.Context(), filter, sort, page)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "first booking day, YYYY-MM-DD")
	f.StringVar(&to, "to", "", "last booking day, YYYY-MM-DD")
	f.StringVar(&filter.Category, "category", "", "exact category")
	f.StringVar(&filter.OriginatorName, "originator", "", "originator name contains")
	f.StringVar(&filter.Description, "description", "", "description contains")
	f.Int64Var(&filter.ID, "id", 0, "transaction id; a tax line resolves to its parent")
	f.BoolVar(&filter.OnlyAnnotated, "annotated", false, "only rows the annotator has filled")
	f.IntVar(&page.Number, "page", 1, "page number, 1-based")
	f.IntVar(&page.Size, "size", 0, "page size (default query.default_page_size)")
	f.StringVar(&sortField, "sort", "", "booking_date_time, debit, credit or id")
	f.BoolVar(&descending, "desc", false, "sort descending")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, ledgererr.Validation("parse args", "invalid id %q", s)
	}
	return id, nil
}

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one transaction with its tax lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := a.queryService()
			if err != nil {
				return err
			}
			rec, err := svc.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(rec)
		},
	}
}

func newUpdateCommand(a *app) *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "update <id> --set field=value...",
		Short: "Change fields of one transaction; identity fields are rejected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			fields := make(map[string]string, len(sets))
			for _, kv := range sets {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || strings.TrimSpace(k) == "" {
					return ledgererr.Validation("parse flags", "--set %q: want field=value", kv)
				}
				fields[k] = v
			}
			patch, err := repository.ParsePatch(fields)
			if err != nil {
				return err
			}
			repo, err := a.store()
			if err != nil {
				return err
			}
			t, err := repo.UpdateByID(cmd.Context(), id, patch)
			if err != nil {
				return err
			}
			return a.print(t)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value, repeatable; empty value clears a text field")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove one transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			repo, err := a.store()
			if err != nil {
				return err
			}
			if err := repo.Delete(cmd.Context(), id); err != nil {
				return err
			}
			return a.print(map[string]int64{"deleted": id})
		},
	}
}

func newCategoriesCommand(a *app) *cobra.Command {
	var annotation bool
	var save []string
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List stored categories, or show and save the list annotators choose from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(save) > 0 {
				p, err := a.prefsStore()
				if err != nil {
					return err
				}
				if err := p.SaveCategories(save); err != nil {
					return err
				}
				annotation = true
			}
			if annotation {
				return a.print(a.annotationCategories())
			}
			svc, err := a.queryService()
			if err != nil {
				return err
			}
			cats, err := svc.Categories(cmd.Context())
			if err != nil {
				return err
			}
			if cats == nil {
				cats = []string{}
			}
			return a.print(cats)
		},
	}
	cmd.Flags().BoolVar(&annotation, "annotation", false, "show the annotation category list instead")
	cmd.Flags().StringSliceVar(&save, "save", nil, "replace the annotation category list")
	return cmd
}

func newSeedCommand(a *app) *cobra.Command {
	var opts testdata.Options
	var out, start string
	var ingest bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a synthetic statement CSV, optionally ingesting it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if opts.Start, err = a.parseDay("start", start, false); err != nil {
				return err
			}
			if ingest {
				svc, err := a.ingestService()
				if err != nil {
					return err
				}
				res, err := svc.Extract(cmd.Context(), testdata.Rows(opts))
				if err != nil {
					return err
				}
				return a.print(res)
			}
			if out == "" {
				return testdata.WriteCSV(a.out, opts)
			}
			f, err := os.Create(out)
			if err != nil {
				return errors.Wrap(err, "create seed file")
			}
			if err := testdata.WriteCSV(f, opts); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "wrote %s\n", out)
			return err
		},
	}
	f := cmd.Flags()
	f.Int64Var(&opts.Seed, "seed", 1, "random seed")
	f.StringVar(&start, "start", "2024-01-01", "first statement day, YYYY-MM-DD")
	f.IntVar(&opts.Days, "days", 30, "days of activity")
	f.IntVar(&opts.PerDay, "per-day", 3, "purchases per day")
	f.StringVarP(&out, "out", "o", "", "output file (default stdout)")
	f.BoolVar(&ingest, "ingest", false, "store the rows instead of writing CSV")
	return cmd
}
