package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jask/budgettracker/internal/database"
	"github.com/jask/budgettracker/internal/database/repository"
)

func TestMaintenanceStatusAndReset(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.OpenMigrated(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	repo := repository.NewTransactionRepo(db)
	insert(t, ctx, repo, stanRow(1, 3, "S1", false, "100"), stanRow(2, 3, "S1", true, "15"))

	m := &MaintenanceService{DB: db, DBPath: path, Log: zerolog.Nop()}
	st, err := m.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, st.Transactions)
	require.Equal(t, 2, st.Unannotated)
	require.Positive(t, st.SchemaVersion)
	require.False(t, st.Dirty)

	removed, err := m.Reset(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	st, err = m.Status(ctx)
	require.NoError(t, err)
	require.Zero(t, st.Transactions)

	_, err = (&MaintenanceService{}).Reset(ctx)
	require.Error(t, err)
}
