package filefrag_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fragcheck/fragcheck"
	"github.com/fragcheck/fragcheck/errors"
	"github.com/fragcheck/fragcheck/filefrag"
	dt "github.com/fragcheck/fragcheck/testing"
)

func TestParseModernReport(t *testing.T) {
	out, err := filefrag.Parse(dt.ModernReport)
	require.NoError(t, err)

	assert.Equal(t, uint64(1024000), out.SizeBytes)
	assert.Equal(t, uint64(2000), out.Blocks)
	assert.Equal(t, uint64(512), out.BlockSize)
	assert.Equal(t, 2, out.ExtentsFound)
	require.Len(t, out.Extents, 2)

	assert.Equal(t, fragcheck.BlockRange{Start: 0, End: 1000}, out.Extents[0].Logical)
	assert.Equal(t, fragcheck.BlockRange{Start: 1000, End: 2000}, out.Extents[0].Physical)
	assert.Equal(t, fragcheck.ExtentFlags(0), out.Extents[0].Flags)

	assert.Equal(t, fragcheck.BlockRange{Start: 1000, End: 2000}, out.Extents[1].Logical)
	assert.Equal(t, fragcheck.BlockRange{Start: 2000, End: 3000}, out.Extents[1].Physical)
	assert.True(t, out.Extents[1].Flags.Has(fragcheck.FlagLast|fragcheck.FlagEOF))
}

func TestParseLegacyReport(t *testing.T) {
	out, err := filefrag.Parse(dt.LegacyReport)
	require.NoError(t, err)
	require.Len(t, out.Extents, 2)
	assert.Equal(t, uint64(2000), out.Blocks)
	assert.Equal(t, uint64(512), out.BlockSize)
	assert.True(t, out.Extents[1].Flags.Has(fragcheck.FlagEOF))
	// The "blocks" word must not leak into flags.
	assert.Equal(t, fragcheck.ExtentFlags(0), out.Extents[0].Flags)
}

func TestParseModernAndLegacyAgree(t *testing.T) {
	modern, err := filefrag.Parse(dt.ModernReport)
	require.NoError(t, err)
	legacy, err := filefrag.Parse(dt.LegacyReport)
	require.NoError(t, err)

	// Same extent geometry regardless of format generation. Flags differ
	// (the legacy fixture has no "last") so compare ranges only.
	require.Len(t, legacy.Extents, len(modern.Extents))
	for i := range modern.Extents {
		assert.Equal(t, modern.Extents[i].Logical, legacy.Extents[i].Logical)
		assert.Equal(t, modern.Extents[i].Physical, legacy.Extents[i].Physical)
	}
}

func TestParseDiscontiguousReport(t *testing.T) {
	out, err := filefrag.Parse(dt.DiscontiguousReport)
	require.NoError(t, err)
	require.Len(t, out.Extents, 2)
	// The expected: column must not corrupt the flags.
	assert.True(t, out.Extents[1].Flags.Has(fragcheck.FlagLast|fragcheck.FlagEOF))
	assert.Equal(t, fragcheck.BlockRange{Start: 5000, End: 6000}, out.Extents[1].Physical)
}

func TestParseIdempotent(t *testing.T) {
	a, err := filefrag.Parse(dt.ModernReport)
	require.NoError(t, err)
	b, err := filefrag.Parse(dt.ModernReport)
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("parse is not deterministic (-first +second):\n%s", diff)
	}
}

func TestParseTruncatedReport(t *testing.T) {
	_, err := filefrag.Parse(dt.TruncatedReport)
	require.Error(t, err)
	assert.Equal(t, errors.KindParse, errors.KindOf(err))
	assert.Contains(t, err.Error(), "truncated")
}

func TestParseGarbage(t *testing.T) {
	for name, text := range map[string]string{
		"tool noise": dt.GarbageReport,
		"empty":      "",
		"whitespace": "\n\n  \n",
	} {
		_, err := filefrag.Parse(text)
		require.Error(t, err, name)
		assert.Equal(t, errors.KindParse, errors.KindOf(err), name)
	}
}

func TestParseMalformedDataLines(t *testing.T) {
	header := "File size of /mnt/x is 1024000 (2000 blocks of 512 bytes)\n"
	for name, line := range map[string]string{
		"inverted logical":  "   0:      999..       0:       1000..      1999:   1000:",
		"inverted physical": "   0:        0..     999:       1999..      1000:   1000:",
		"length mismatch":   "   0:        0..     999:       1000..      1999:    500:",
		"physical shorter":  "   0:        0..     999:       1000..      1500:   1000:",
	} {
		_, err := filefrag.Parse(header + line + "\n")
		require.Error(t, err, name)
		assert.Equal(t, errors.KindParse, errors.KindOf(err), name)
	}
}

func TestParseHeaderOnly(t *testing.T) {
	// A zero-length file: header and footer, no data lines.
	text := "File size of /mnt/empty is 0 (0 blocks of 512 bytes)\n/mnt/empty: 0 extents found\n"
	out, err := filefrag.Parse(text)
	require.NoError(t, err)
	assert.Empty(t, out.Extents)
	assert.Equal(t, 0, out.ExtentsFound)
}

func TestParseWithoutFooter(t *testing.T) {
	text := strings.Join(strings.Split(dt.ModernReport, "\n")[:5], "\n")
	out, err := filefrag.Parse(text)
	require.NoError(t, err)
	assert.Equal(t, -1, out.ExtentsFound)
	require.Len(t, out.Extents, 2)
}
