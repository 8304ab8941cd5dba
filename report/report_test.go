package report_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fragcheck/fragcheck"
	"github.com/fragcheck/fragcheck/report"
)

func sampleReport() *fragcheck.Report {
	rep := &fragcheck.Report{}
	rep.Add(fragcheck.TestResult{Filesystem: "ext4", Outcome: fragcheck.Pass})
	rep.Add(fragcheck.TestResult{Filesystem: "vfat", Outcome: fragcheck.Fail, Message: "contiguity violated by extent #0, #1"})
	rep.Add(fragcheck.TestResult{Filesystem: "btrfs", Outcome: fragcheck.Error, Message: "mkfs exit code 1"})
	return rep
}

func TestRender(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	var buf bytes.Buffer
	report.Render(&buf, sampleReport())
	out := buf.String()

	assert.Contains(t, out, "ext4   PASS")
	assert.Contains(t, out, "vfat   FAIL  contiguity violated")
	assert.Contains(t, out, "btrfs  ERROR  mkfs exit code 1")
	assert.Contains(t, out, "1 passed, 1 failed, 1 errored")
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.csv")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	require.NoError(t, report.WriteCSV(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "filesystem,outcome,message")
	assert.Contains(t, out, "ext4,PASS,")
	assert.Contains(t, out, "btrfs,ERROR,mkfs exit code 1")
}
