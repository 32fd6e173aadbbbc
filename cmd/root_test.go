package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/sells-group/contract-cli/internal/docstore"
	"github.com/sells-group/contract-cli/internal/model"
	"github.com/sells-group/contract-cli/internal/orchestrator"
	"github.com/sells-group/contract-cli/internal/registry"
	"github.com/sells-group/contract-cli/internal/view"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"serve", "analyze", "columns", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "contract-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestAnalyzeCommand_Flags(t *testing.T) {
	for _, name := range []string{"persist", "owner", "accept", "search", "sort", "desc", "export"} {
		assert.NotNil(t, analyzeCmd.Flags().Lookup(name), "analyze should have --%s flag", name)
	}
}

func TestColumnsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range columnsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "hide", "order"} {
		assert.True(t, names[name], "columns should have subcommand %q", name)
	}
}

func TestReadInputs(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "offer.txt")
	require.NoError(t, os.WriteFile(txt, []byte("Salary: $90,000"), 0o600))

	files, err := readInputs([]string{txt})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "offer.txt", files[0].Name)
	assert.Equal(t, "text/plain", files[0].MimeType)

	_, err = readInputs([]string{filepath.Join(dir, "missing.pdf")})
	assert.Error(t, err)
}

func TestWriteOutcomes(t *testing.T) {
	var buf bytes.Buffer
	writeOutcomes(&buf, []orchestrator.Outcome{
		{FileName: "A.pdf", Status: model.DocumentStatusCompleted, Suggestion: &model.Suggestion{CandidateID: "signingBonus"}},
		{FileName: "scan.tiff", Err: model.ErrUnsupportedMimeType},
	})
	out := buf.String()
	assert.Contains(t, out, "suggests signingBonus")
	assert.Contains(t, out, "rejected")
}

func testEngine(t *testing.T) *view.Engine {
	t.Helper()
	reg := registry.New(
		model.Column{ID: "employeeName", Label: "Employee Name", Visible: true, Order: 0},
		model.Column{ID: "benefits", Label: "Benefits", Visible: true, Order: 1},
	)
	docs := docstore.New()
	require.NoError(t, docs.Rehydrate([]model.DurableRecord{{
		ID:          "d1",
		DisplayName: "A.pdf",
		ExtractedTerms: model.Terms{
			"employeeName": {Value: model.StringPtr("Jane Doe")},
			"benefits":     {Value: model.StringPtr("Health,\n401k")},
		},
	}}))
	return view.New(reg, docs, language.English)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	writeTable(&buf, testEngine(t).Table(view.Query{}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "multi-line values stay on one row")
	assert.True(t, strings.HasPrefix(lines[0], "DocumentLabel"))
	assert.Contains(t, lines[1], "Health, 401k")
}

func TestExportTable(t *testing.T) {
	e := testEngine(t)
	dir := t.TempDir()

	path, err := exportTable(e, filepath.Join(dir, "out.csv"), view.Query{}, time.Now())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "DocumentLabel,Employee Name,Benefits\n"))

	t.Chdir(dir)
	path, err = exportTable(e, "xlsx", view.Query{}, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "contracts-export-2025-01-31.xlsx", path)
	_, err = os.Stat(filepath.Join(dir, path))
	require.NoError(t, err)

	_, err = exportTable(e, filepath.Join(dir, "out.json"), view.Query{}, time.Now())
	assert.Error(t, err)
}

func TestFormatColumns(t *testing.T) {
	var buf bytes.Buffer
	formatColumns(&buf, []model.Column{{ID: "salary", Label: "Salary", Visible: false, Order: 4, Description: model.StringPtr("Base pay")}})
	out := buf.String()
	assert.Contains(t, out, "salary")
	assert.Contains(t, out, "false")
	assert.Contains(t, out, "Base pay")
}
