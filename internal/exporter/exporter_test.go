package exporter

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/lumenlead/prospector/internal/model"
	"github.com/lumenlead/prospector/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedEnriched(t *testing.T, st store.Store, email string, status model.ProspectStatus) {
	t.Helper()
	ctx := context.Background()
	ps := []model.Prospect{{Email: email, FirstName: "Ada", Company: "Acme"}}
	_, err := st.CreateProspects(ctx, ps)
	require.NoError(t, err)
	require.NoError(t, st.SetEnrichmentField(ctx, ps[0].ID, model.StageProfile, "a profile summary", "anthropic", "m"))
	require.NoError(t, st.UpdateProspectStatus(ctx, ps[0].ID, status, ""))
}

func TestExportCSV(t *testing.T) {
	st := newTestStore(t)
	seedEnriched(t, st, "ada@acme.io", model.ProspectStatusEnriched)
	seedEnriched(t, st, "bob@acme.io", model.ProspectStatusEnriched)

	dest := filepath.Join(t.TempDir(), "out.csv")
	n, err := New(st).Export(context.Background(), dest, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeader, rows[0])

	emails := []string{rows[1][0], rows[2][0]}
	assert.ElementsMatch(t, []string{"ada@acme.io", "bob@acme.io"}, emails)
	assert.Equal(t, "a profile summary", rows[1][7])
}

func TestExportXLSX(t *testing.T) {
	st := newTestStore(t)
	seedEnriched(t, st, "ada@acme.io", model.ProspectStatusEnriched)

	dest := filepath.Join(t.TempDir(), "out.xlsx")
	n, err := New(st).Export(context.Background(), dest, "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := xlsx.OpenFile(dest)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	require.Len(t, f.Sheets[0].Rows, 2)
	assert.Equal(t, "ada@acme.io", f.Sheets[0].Rows[1].Cells[0].String())
}

func TestExport_StatusFilter(t *testing.T) {
	st := newTestStore(t)
	seedEnriched(t, st, "done@acme.io", model.ProspectStatusEnriched)
	seedEnriched(t, st, "pending@acme.io", model.ProspectStatusPending)

	dest := filepath.Join(t.TempDir(), "out.csv")
	n, err := New(st).Export(context.Background(), dest, "csv", model.ProspectStatusEnriched, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExport_Empty(t *testing.T) {
	st := newTestStore(t)

	dest := filepath.Join(t.TempDir(), "out.csv")
	n, err := New(st).Export(context.Background(), dest, "csv", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Header-only file still written.
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Contains(t, string(data), "email,first_name")
}

func TestExport_UnsupportedFormat(t *testing.T) {
	st := newTestStore(t)
	_, err := New(st).Export(context.Background(), "out.bin", "parquet", "", nil)
	require.Error(t, err)
}
