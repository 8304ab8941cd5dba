// Package report renders the accumulated case results for humans and
// exports them as CSV for machines.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/gocarina/gocsv"
	"github.com/natefinch/atomic"
	pkgerrors "github.com/pkg/errors"

	"github.com/fragcheck/fragcheck"
)

var outcomeColors = map[fragcheck.Outcome]*color.Color{
	fragcheck.Pass:  color.New(color.FgGreen, color.Bold),
	fragcheck.Fail:  color.New(color.FgRed, color.Bold),
	fragcheck.Error: color.New(color.FgYellow, color.Bold),
}

// Render writes the human-readable report: one line per case plus a summary
// line. Colors degrade to plain text on non-terminal writers via the color
// package's own detection.
func Render(w io.Writer, rep *fragcheck.Report) {
	results := rep.Results()
	width := 0
	for _, res := range results {
		if len(res.Filesystem) > width {
			width = len(res.Filesystem)
		}
	}
	for _, res := range results {
		c, ok := outcomeColors[res.Outcome]
		if !ok {
			c = color.New()
		}
		fmt.Fprintf(w, "%-*s  %s", width, res.Filesystem, c.Sprint(res.Outcome))
		if res.Message != "" {
			fmt.Fprintf(w, "  %s", res.Message)
		}
		fmt.Fprintln(w)
	}
	passed, failed, errored := rep.Counts()
	fmt.Fprintf(w, "\n%d passed, %d failed, %d errored\n", passed, failed, errored)
}

// csvRow is the export shape of one result.
type csvRow struct {
	Filesystem string `csv:"filesystem"`
	Outcome    string `csv:"outcome"`
	Message    string `csv:"message"`
}

// WriteCSV exports the report to path. The file appears atomically: it is
// written to a temp file first and renamed into place, so a half-written
// report is never observed.
func WriteCSV(path string, rep *fragcheck.Report) error {
	rows := make([]csvRow, 0, len(rep.Results()))
	for _, res := range rep.Results() {
		rows = append(rows, csvRow{
			Filesystem: res.Filesystem,
			Outcome:    res.Outcome.String(),
			Message:    res.Message,
		})
	}
	data, err := gocsv.MarshalString(&rows)
	if err != nil {
		return pkgerrors.Wrap(err, "encoding results")
	}
	if err := atomic.WriteFile(path, strings.NewReader(data)); err != nil {
		return pkgerrors.Wrapf(err, "writing %s", path)
	}
	return nil
}
