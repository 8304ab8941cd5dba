// Package filefrag invokes `filefrag -b512 -e -s` and parses its textual
// report into an extent list.
//
// The report format drifted across e2fsprogs versions, so the parser keys on
// the one stable property of data lines: the
// `N: start.. end: pstart.. pend: length` column pattern. Header, footer and
// anything else unrecognized is skipped; a malformed data line or a footer
// extent count that contradicts the data lines is a parse error.
package filefrag

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fragcheck/fragcheck"
	"github.com/fragcheck/fragcheck/command"
	"github.com/fragcheck/fragcheck/errors"
)

const filefragCmd = "filefrag"

// Output is the parsed report for one file.
type Output struct {
	Path string
	// SizeBytes is the file size from the report header, 0 when the header
	// was absent.
	SizeBytes uint64
	// Blocks is the file size in report blocks from the header, 0 when
	// absent. With -b512 this is 512-byte sectors.
	Blocks uint64
	// BlockSize is the block unit the header declared, 0 when absent.
	BlockSize uint64
	// Extents are the parsed data lines in report order.
	Extents fragcheck.ExtentList
	// ExtentsFound is the count from the report footer, -1 when absent.
	ExtentsFound int
}

var (
	// `   0:        0..    5249:      67584..     72833:   5250:             last,eof`
	// also matches the older `0: 0..999: 1000..1999: 1000 blocks, eof` shape.
	extentPattern = regexp.MustCompile(
		`^\s*(\d+):\s*(\d+)\.\.\s*(\d+):\s*(\d+)\.\.\s*(\d+):\s*(\d+):?(.*)$`)
	// Both header spellings: "(N blocks of B bytes)" and "(N blocks, blocksize B)".
	headerPattern = regexp.MustCompile(
		`^File size of .+ is (\d+) \((\d+) blocks?(?: of (\d+) bytes|, blocksize (\d+))\)`)
	footerPattern   = regexp.MustCompile(`(\d+) extents? found$`)
	expectedPattern = regexp.MustCompile(`^(\d+):`)
)

// Parse converts raw filefrag output into an [Output]. It returns a
// KindParse error when no part of the text is recognizable, when a data line
// carries inconsistent ranges, or when the footer count contradicts the
// number of data lines (truncated output).
func Parse(text string) (*Output, error) {
	out := &Output{ExtentsFound: -1}
	sawHeader := false
	for _, line := range strings.Split(text, "\n") {
		if m := extentPattern.FindStringSubmatch(line); m != nil {
			ext, err := parseExtentLine(m)
			if err != nil {
				return nil, err
			}
			out.Extents = append(out.Extents, ext)
			continue
		}
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			out.SizeBytes, _ = strconv.ParseUint(m[1], 10, 64)
			out.Blocks, _ = strconv.ParseUint(m[2], 10, 64)
			bs := m[3]
			if bs == "" {
				bs = m[4]
			}
			out.BlockSize, _ = strconv.ParseUint(bs, 10, 64)
			sawHeader = true
			continue
		}
		if m := footerPattern.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			out.ExtentsFound = n
			continue
		}
		// Version banners, column headers, blank lines.
	}
	if !sawHeader && out.ExtentsFound < 0 && len(out.Extents) == 0 {
		return nil, errors.New(errors.KindParse, "no recognizable filefrag output")
	}
	if out.ExtentsFound >= 0 && out.ExtentsFound != len(out.Extents) {
		return nil, errors.Newf(errors.KindParse,
			"report claims %d extents but %d data lines parsed (truncated output?)",
			out.ExtentsFound, len(out.Extents))
	}
	return out, nil
}

func parseExtentLine(m []string) (fragcheck.Extent, error) {
	var ext fragcheck.Extent
	nums := make([]uint64, 6)
	for i := 1; i <= 6; i++ {
		n, err := strconv.ParseUint(m[i], 10, 64)
		if err != nil {
			return ext, errors.Newf(errors.KindParse, "bad field %q in %q", m[i], m[0])
		}
		nums[i-1] = n
	}
	idx, logStart, logEnd, physStart, physEnd, length := nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]
	if logEnd < logStart {
		return ext, errors.Newf(errors.KindParse, "inverted logical range in %q", m[0])
	}
	if physEnd < physStart {
		return ext, errors.Newf(errors.KindParse, "inverted physical range in %q", m[0])
	}
	if length != logEnd-logStart+1 {
		return ext, errors.Newf(errors.KindParse,
			"length %d does not match logical range %d..%d", length, logStart, logEnd)
	}
	if physEnd-physStart != logEnd-logStart {
		return ext, errors.Newf(errors.KindParse,
			"physical range %d..%d shorter than logical range %d..%d",
			physStart, physEnd, logStart, logEnd)
	}
	ext = fragcheck.Extent{
		Index:    int(idx),
		Logical:  fragcheck.BlockRange{Start: logStart, End: logEnd + 1},
		Physical: fragcheck.BlockRange{Start: physStart, End: physEnd + 1},
		Flags:    parseTrailer(m[7]),
	}
	return ext, nil
}

// parseTrailer digests whatever follows the length column: an optional
// "expected:" value (discontiguity hint, not needed here), the word "blocks"
// older versions print, and the flag list.
func parseTrailer(s string) fragcheck.ExtentFlags {
	s = strings.TrimSpace(s)
	if m := expectedPattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(s[len(m[0]):])
	}
	s = strings.TrimPrefix(s, "blocks")
	s = strings.TrimPrefix(s, ",")
	return fragcheck.ParseExtentFlags(s)
}

// IsCapable reports whether the filefrag executable is available.
func IsCapable() bool {
	return command.LookPath(filefragCmd)
}

// Invoke runs filefrag on path and parses the result. Sync is forced (-s) so
// delayed allocations do not show up as unknown extents.
func Invoke(path string, log *zerolog.Logger) (*Output, error) {
	cmd := command.New(
		command.WithName(filefragCmd),
		command.WithVarArgs("-b512", "-e", "-s", path),
		command.WithLogger(log),
		command.WithStderrLogLevel(zerolog.WarnLevel),
		command.WithBufferedStdout(),
		command.WithTimeout(time.Minute),
	)
	if err := cmd.Run(); err != nil {
		return nil, errors.NewFromError(errors.KindProvisioning,
			pkgerrors.Wrapf(err, "filefrag %s", path))
	}
	out, err := Parse(string(cmd.Stdout()))
	if err != nil {
		return nil, err
	}
	out.Path = path
	return out, nil
}
