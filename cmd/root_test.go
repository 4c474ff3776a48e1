package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"migrate", "ingest", "serve", "dashboard", "trend", "top", "relations", "anomalies", "geocluster", "cases"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "cdrscope", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestIngestCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"csv", "xlsx", "ftp", "sheet", "actor", "rules", "concurrency"} {
		flag := ingestCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "ingest should have --%s flag", flagName)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestAnomaliesCommand_HasSetStatus(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range anomaliesCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["set-status"])
}

func TestGeoclusterCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"min-lng", "min-lat", "max-lng", "max-lat", "access-type"} {
		flag := geoclusterCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "geocluster should have --%s flag", flagName)
	}
}

func TestCasesCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range casesCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["open"])
	assert.True(t, names["attach"])
}

func TestLoadRows_RequiresExactlyOneSource(t *testing.T) {
	origCSV, origXLSX, origFTP := ingestCSVPath, ingestXLSXPath, ingestFTPURL
	t.Cleanup(func() {
		ingestCSVPath, ingestXLSXPath, ingestFTPURL = origCSV, origXLSX, origFTP
	})

	ingestCSVPath, ingestXLSXPath, ingestFTPURL = "", "", ""
	_, err := loadRows(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")

	ingestCSVPath, ingestXLSXPath = "a.csv", "b.xlsx"
	_, err = loadRows(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one")
}

func TestQueryWindow_ParsesFlags(t *testing.T) {
	origFrom, origTo := queryFrom, queryTo
	t.Cleanup(func() { queryFrom, queryTo = origFrom, origTo })

	queryFrom, queryTo = "2026-03-01T00:00:00Z", "2026-03-10T00:00:00Z"
	w, err := queryWindow()
	require.NoError(t, err)
	assert.Equal(t, 2026, w.From.Year())
	assert.True(t, w.To.After(w.From))

	queryFrom = "not-a-time"
	_, err = queryWindow()
	assert.Error(t, err)
}
