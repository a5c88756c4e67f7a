package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jask/budgettracker/internal/analytics"
	"github.com/jask/budgettracker/internal/config"
	"github.com/jask/budgettracker/internal/database"
	"github.com/jask/budgettracker/internal/database/repository"
	"github.com/jask/budgettracker/internal/ledgererr"
	"github.com/jask/budgettracker/internal/llm"
	"github.com/jask/budgettracker/internal/logger"
	"github.com/jask/budgettracker/internal/prefs"
	"github.com/jask/budgettracker/internal/secrets"
	"github.com/jask/budgettracker/internal/service"
	"github.com/jask/budgettracker/internal/statement"
)

// app carries what every command shares: config, logger, the lazily opened store.
type app struct {
	cfgPath  string
	dbPath   string
	stateDir string
	logLevel string

	cfg config.Config
	log zerolog.Logger
	out io.Writer
	in  io.Reader

	db   *sql.DB
	repo *repository.TransactionRepo
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	a.in = cmd.InOrStdin()
	a.log = logger.NewWithOptions(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)
	cmd.SetContext(logger.WithContext(cmd.Context(), a.log))
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
		a.db, a.repo = nil, nil
	}
}

// store migrates and opens the database on first use.
func (a *app) store() (*repository.TransactionRepo, error) {
	if a.repo != nil {
		return a.repo, nil
	}
	path := a.cfg.Database.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create db dir")
	}
	db, err := database.OpenMigrated(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	a.db = db
	a.repo = repository.NewTransactionRepo(db)
	return a.repo, nil
}

func (a *app) diagnostics() service.Diagnostics {
	return service.LogDiagnostics{Log: a.log}
}

func (a *app) ingestService() (*service.IngestService, error) {
	repo, err := a.store()
	if err != nil {
		return nil, err
	}
	return &service.IngestService{
		Transactions: repo,
		Parser:       statement.NewParser(a.cfg.Location()),
		Diagnostics:  a.diagnostics(),
		Log:          a.log,
	}, nil
}

func (a *app) queryService() (*service.QueryService, error) {
	repo, err := a.store()
	if err != nil {
		return nil, err
	}
	return &service.QueryService{
		Transactions:    repo,
		Diagnostics:     a.diagnostics(),
		DefaultPageSize: a.cfg.Query.DefaultPageSize,
		MaxPageSize:     a.cfg.Query.MaxPageSize,
	}, nil
}

func (a *app) analyticsService() (*analytics.Service, error) {
	repo, err := a.store()
	if err != nil {
		return nil, err
	}
	dev := analytics.Population
	if a.cfg.Analytics.SampleStdDev {
		dev = analytics.Sample
	}
	return &analytics.Service{Transactions: repo, Deviation: dev}, nil
}

func (a *app) maintenance() (*service.MaintenanceService, error) {
	if _, err := a.store(); err != nil {
		return nil, err
	}
	return &service.MaintenanceService{DB: a.db, DBPath: a.cfg.Database.Path, Log: a.log}, nil
}

func (a *app) secretStore() (secrets.Store, error) {
	if a.stateDir != "" {
		return secrets.Store{Dir: a.stateDir}, nil
	}
	return secrets.Default()
}

func (a *app) prefsStore() (prefs.Store, error) {
	if a.stateDir != "" {
		return prefs.Store{Dir: a.stateDir}, nil
	}
	return prefs.Default()
}

// annotationCategories is the saved list, or the built-in one.
func (a *app) annotationCategories() []string {
	p, err := a.prefsStore()
	if err != nil {
		return llm.DefaultCategories
	}
	cats, err := p.LoadCategories()
	if err != nil {
		a.log.Warn().Err(err).Msg("ignoring saved categories")
		return llm.DefaultCategories
	}
	if len(cats) == 0 {
		return llm.DefaultCategories
	}
	return cats
}

func (a *app) apiKey() string {
	var stored func(string) (string, error)
	if s, err := a.secretStore(); err == nil {
		stored = s.FetchProviderKey
	}
	return a.cfg.ResolveAPIKey(stored)
}

// annotator builds the configured collaborator. Remote providers are wrapped in Retrying.
func (a *app) annotator(ctx context.Context) (llm.Annotator, error) {
	ac := a.cfg.Annotation
	cats := a.annotationCategories()
	switch strings.ToLower(strings.TrimSpace(ac.Provider)) {
	case "", "heuristic":
		return llm.NewHeuristicAnnotator(), nil
	case "openai":
		p, err := llm.NewOpenAIAnnotator(a.apiKey(), ac.Model)
		if err != nil {
			return nil, err
		}
		return llm.NewRetrying(p.WithCategories(cats), ac.MaxRetryElapsed, a.log), nil
	case "gemini":
		p, err := llm.NewGeminiAnnotator(ctx, a.apiKey(), ac.Model)
		if err != nil {
			return nil, err
		}
		return llm.NewRetrying(p.WithCategories(cats), ac.MaxRetryElapsed, a.log), nil
	default:
		return nil, ledgererr.Validation("annotator", "unknown provider %q", ac.Provider)
	}
}

func (a *app) print(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseDay reads YYYY-MM-DD in the statement timezone. endOfDay moves it to the last second.
func (a *app) parseDay(flag, s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, a.cfg.Location())
	if err != nil {
		return time.Time{}, ledgererr.Validation("parse flags", "--%s %q: want YYYY-MM-DD", flag, s)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	return t, nil
}
