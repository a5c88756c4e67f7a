package service

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jask/budgettracker/internal/database"
)

// MaintenanceService houses destructive/ops actions surfaced through the CLI.
type MaintenanceService struct {
	DB     *sql.DB
	DBPath string
	Log    zerolog.Logger
}

// Status describes the store.
type Status struct {
	Path          string `json:"path"`
	SchemaVersion uint   `json:"schema_version"`
	Dirty         bool   `json:"dirty"`
	Transactions  int    `json:"transactions"`
	Unannotated   int    `json:"unannotated"`
}

// Status reports the schema version and row counts.
func (s *MaintenanceService) Status(ctx context.Context) (Status, error) {
	if s.DB == nil {
		return Status{}, errors.New("maintenance: db not configured")
	}
	st := Status{Path: s.DBPath}
	if s.DBPath != "" {
		v, dirty, err := database.SchemaVersion(s.DBPath)
		if err != nil {
			return st, errors.Wrap(err, "schema version")
		}
		st.SchemaVersion, st.Dirty = v, dirty
	}
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN description IS NULL OR category IS NULL THEN 1 ELSE 0 END), 0)
		FROM transactions`).Scan(&st.Transactions, &st.Unannotated)
	if err != nil {
		return st, errors.Wrap(err, "count transactions")
	}
	return st, nil
}

// Reset wipes every stored transaction. It keeps the schema intact so ingestion can
// start over.
func (s *MaintenanceService) Reset(ctx context.Context) (int64, error) {
	if s.DB == nil {
		return 0, errors.New("maintenance: db not configured")
	}
	var removed int64
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM transactions")
		if err != nil {
			return errors.Wrap(err, "reset transactions")
		}
		removed, _ = res.RowsAffected()
		return nil
	}); err != nil {
		return 0, err
	}
	if _, err := s.DB.ExecContext(ctx, "VACUUM"); err != nil {
		s.Log.Warn().Err(err).Msg("vacuum after reset failed")
	}
	s.Log.Info().Int64("removed", removed).Msg("store reset")
	return removed, nil
}
