package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/csvguard/pkg/config"
	"github.com/hed1ad/csvguard/pkg/report"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func writeCSV(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("amount,latency,=cmd\n")
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&b, "%d,%d,ok\n", 100+(i*13)%20, 30+(i*7)%9)
	}
	b.WriteString("104,800,-2+3\n")

	path := filepath.Join(dir, "orders.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func TestDetectJSON(t *testing.T) {
	path := writeCSV(t, t.TempDir())

	out, err := runCmd(t, "detect", path)
	require.NoError(t, err)

	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "orders.csv", rep.Filename)
	assert.Equal(t, 51, rep.TotalRows)
	assert.Equal(t, []string{"amount", "latency"}, rep.Metadata.FeatureNames)
	assert.Equal(t, 1, rep.Metadata.NeutralizedCells)
	require.NotEmpty(t, rep.Anomalies)
	assert.Equal(t, 52, rep.Anomalies[0].SourceLine)
}

func TestDetectCSVToFile(t *testing.T) {
	dir := t.TempDir()
	path := writeCSV(t, dir)
	outPath := filepath.Join(dir, "report.csv")
	metricsPath := filepath.Join(dir, "csvguard.prom")

	_, err := runCmd(t, "detect", path, "--format", "csv", "-o", outPath, "--metrics-file", metricsPath, "--contamination", "0.05")
	require.NoError(t, err)

	body, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Equal(t, "source_line,score,baseline,primary_driver,amount,latency", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "52,"), lines[1])

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `csvguard_pipeline_runs_total{outcome="ok"} 1`)
}

func TestDetectErrors(t *testing.T) {
	dir := t.TempDir()
	data := writeCSV(t, dir)

	small := filepath.Join(dir, "small.yaml")
	cfg := config.Default()
	cfg.MaxFileSizeBytes = 64
	require.NoError(t, config.Save(cfg, small))

	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("a,b\n1,2\n"), 0o600))

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "too large", args: []string{"detect", data, "--config", small}, wantErr: "FileTooLarge (too_large)"},
		{name: "wrong extension", args: []string{"detect", text}, wantErr: "InvalidFileType (bad_input)"},
		{name: "missing file", args: []string{"detect", filepath.Join(dir, "nope.csv")}, wantErr: "no such file"},
		{name: "bad format", args: []string{"detect", data, "--format", "xml"}, wantErr: "unknown output format"},
		{name: "bad contamination", args: []string{"detect", data, "--contamination", "0.9"}, wantErr: "contamination_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCmd(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDetectFailureKeepsOutput(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(outPath, []byte("previous report"), 0o600))

	bad := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(bad, []byte("a,b\n"), 0o600))

	_, err := runCmd(t, "detect", bad, "-o", outPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MalformedInput")

	body, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "previous report", string(body))

	fresh := filepath.Join(dir, "fresh.json")
	_, err = runCmd(t, "detect", bad, "-o", fresh)
	require.Error(t, err)
	assert.NoFileExists(t, fresh)
}

func TestConfigShow(t *testing.T) {
	out, err := runCmd(t, "config", "show", "--contamination", "0.2", "--seed", "7")
	require.NoError(t, err)

	var got config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, 0.2, got.ContaminationRate)
	assert.Equal(t, int64(7), got.Seed)
	assert.Equal(t, "error", got.LogLevel)
	assert.Equal(t, []string{".csv"}, got.AllowedExtensions)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "csvguard.yaml")
	out, err := runCmd(t, "config", "init", path, "--seed", "11")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(11), loaded.Seed)
}
