package main

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/felo/reportmaster/internal/export"
)

func writeEML(t *testing.T, dir, name, id, from, to, date, subject string) {
	t.Helper()
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nMessage-Id: <%s@example.com>\r\n"+
		"MIME-Version: 1.0\r\nContent-Type: multipart/mixed; boundary=\"xx\"\r\n\r\n"+
		"--xx\r\nContent-Type: text/plain\r\n\r\nHello.\r\n"+
		"--xx\r\nContent-Type: text/csv\r\nContent-Disposition: attachment; filename=\"%s.csv\"\r\n"+
		"Content-Transfer-Encoding: base64\r\n\r\n%s\r\n--xx--\r\n",
		from, to, subject, date, id, id, base64.StdEncoding.EncodeToString([]byte("a,b\n"+id)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()
	stdout, stderr, err := executeCLI(t, args...)
	require.NoError(t, err, stderr)
	return stdout, stderr
}

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		buildCmd.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	})
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func fixtureDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeEML(t, dir, "a.eml", "a", "alice@example.com", "bob@example.com", "Mon, 6 May 2024 10:00:00 +0000", "Budget")
	writeEML(t, dir, "b.eml", "b", "bob@example.com", "alice@example.com", "Mon, 6 May 2024 10:30:00 +0000", "Re: Budget")
	writeEML(t, dir, "c.eml", "c", "carol@example.com", "dave@example.com", "Mon, 6 May 2024 14:00:00 +0000", "Lunch")
	return dir
}

func TestBuildCommandJSON(t *testing.T) {
	dir := fixtureDir(t)
	archive := filepath.Join(t.TempDir(), "attachments.zip")

	stdout, stderr := runCLI(t, "build", dir, "--max-gap", "2h", "--month", "2024-05", "--attachments", archive)

	var report export.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "2024-05", report.ReportMonth)
	require.Len(t, report.Sections, 2)
	assert.Equal(t, "Budget", report.Sections[0].Title)
	assert.Len(t, report.Sections[0].Threads, 1)
	assert.Equal(t, 3, report.Stats.Messages)

	assert.Contains(t, stderr, "3 messages from 3 files")
	assert.Contains(t, stderr, "3 attachments")

	zr, err := zip.OpenReader(archive)
	require.NoError(t, err)
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"Attachments/4.1_Budget/a.csv",
		"Attachments/4.1_Budget/b.csv",
		"Attachments/4.2_Lunch/c.csv",
	}, names)
}

func TestBuildCommandYAMLWithNarrowGap(t *testing.T) {
	dir := fixtureDir(t)

	stdout, _ := runCLI(t, "build", dir, "--max-gap", "10m", "--format", "yaml")

	var report export.Report
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, 3, report.Stats.Threads)
}

func TestBuildCommandWritesOutputFile(t *testing.T) {
	dir := fixtureDir(t)
	out := filepath.Join(t.TempDir(), "report.yaml")

	stdout, _ := runCLI(t, "build", dir, "--format", "yaml", "-o", out)
	assert.Empty(t, stdout)

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var report export.Report
	require.NoError(t, yaml.Unmarshal(raw, &report))
	assert.Equal(t, 3, report.Stats.Messages)
}

func TestBuildCommandRejectsBadInput(t *testing.T) {
	dir := fixtureDir(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"month", []string{"build", dir, "--month", "May 2024"}, "invalid --month"},
		{"format", []string{"build", dir, "--format", "xml"}, "unknown format"},
		{"output dir missing", []string{"build", dir, "-o", filepath.Join(t.TempDir(), "no", "such", "r.json")}, "failed to create"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCLI(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
