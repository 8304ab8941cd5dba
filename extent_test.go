package fragcheck_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fragcheck/fragcheck"
	dt "github.com/fragcheck/fragcheck/testing"
)

func TestBlockRange(t *testing.T) {
	r := fragcheck.BlockRange{Start: 100, End: 200}
	assert.Equal(t, uint64(100), r.Length())
	assert.Equal(t, uint64(0), fragcheck.BlockRange{Start: 5, End: 5}.Length())
	assert.Equal(t, uint64(0), fragcheck.BlockRange{Start: 9, End: 3}.Length())

	assert.True(t, r.Overlaps(fragcheck.BlockRange{Start: 199, End: 300}))
	assert.True(t, r.Overlaps(fragcheck.BlockRange{Start: 50, End: 101}))
	assert.False(t, r.Overlaps(fragcheck.BlockRange{Start: 200, End: 300}))
	assert.False(t, r.Overlaps(fragcheck.BlockRange{Start: 0, End: 100}))
}

func TestParseExtentFlags(t *testing.T) {
	flags := fragcheck.ParseExtentFlags("last,eof")
	assert.True(t, flags.Has(fragcheck.FlagLast))
	assert.True(t, flags.Has(fragcheck.FlagEOF))
	assert.False(t, flags.Has(fragcheck.FlagUnwritten))

	// Spacing after commas varies between versions.
	flags = fragcheck.ParseExtentFlags("unwritten, eof")
	assert.True(t, flags.Has(fragcheck.FlagUnwritten|fragcheck.FlagEOF))

	// Unknown names are tolerated but marked.
	flags = fragcheck.ParseExtentFlags("some_future_flag")
	assert.True(t, flags.Has(fragcheck.FlagOther))

	assert.Equal(t, fragcheck.ExtentFlags(0), fragcheck.ParseExtentFlags(""))
	assert.Equal(t, "last,eof", fragcheck.ParseExtentFlags("eof,last").String())
}

func TestTotalBlocks(t *testing.T) {
	list := dt.Extents(
		[3]uint64{0, 1000, 1000},
		[3]uint64{1000, 2000, 500},
	)
	assert.Equal(t, uint64(1500), list.TotalBlocks())
	assert.Equal(t, uint64(0), fragcheck.ExtentList(nil).TotalBlocks())
}

func TestExtentListEqual(t *testing.T) {
	a := dt.Extents([3]uint64{0, 1000, 1000}, [3]uint64{1000, 2000, 1000})
	b := dt.Extents([3]uint64{0, 1000, 1000}, [3]uint64{1000, 2000, 1000})
	c := dt.Extents([3]uint64{0, 1000, 1000})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, c.Equal(a))
}

func TestMergePhysicalForwardAdjacent(t *testing.T) {
	list := dt.Extents(
		[3]uint64{0, 1000, 1000},
		[3]uint64{1000, 2000, 1000},
	)
	runs, overlaps := list.MergePhysical()
	require.Empty(t, overlaps)
	require.Len(t, runs, 1)
	assert.Equal(t, fragcheck.PhysicalRun{Start: 1000, Length: 2000}, runs[0])
}

func TestMergePhysicalBackwardAdjacent(t *testing.T) {
	// Second extent physically precedes the first and ends where it begins.
	list := dt.Extents(
		[3]uint64{0, 2000, 1000},
		[3]uint64{1000, 1000, 1000},
	)
	runs, overlaps := list.MergePhysical()
	require.Empty(t, overlaps)
	require.Len(t, runs, 1)
	assert.Equal(t, fragcheck.PhysicalRun{Start: 1000, Length: 2000}, runs[0])
}

func TestMergePhysicalGapSplitsRuns(t *testing.T) {
	list := dt.Extents(
		[3]uint64{0, 1000, 1000},
		[3]uint64{1000, 5000, 500},
	)
	runs, overlaps := list.MergePhysical()
	require.Empty(t, overlaps)
	require.Len(t, runs, 2)
	assert.Equal(t, fragcheck.PhysicalRun{Start: 1000, Length: 1000}, runs[0])
	assert.Equal(t, fragcheck.PhysicalRun{Start: 5000, Length: 500}, runs[1])
}

func TestMergePhysicalOverlapCollapsesToUnion(t *testing.T) {
	list := dt.Extents(
		[3]uint64{0, 1000, 1000},
		[3]uint64{1000, 1500, 1000},
	)
	runs, overlaps := list.MergePhysical()
	require.Len(t, overlaps, 1)
	assert.Equal(t, fragcheck.PhysicalRun{Start: 1000, Length: 1000}, overlaps[0].A)
	assert.Equal(t, fragcheck.PhysicalRun{Start: 1500, Length: 1000}, overlaps[0].B)
	require.Len(t, runs, 1)
	assert.Equal(t, fragcheck.PhysicalRun{Start: 1000, Length: 1500}, runs[0])
}

func TestMergePhysicalSkipsEmptyExtents(t *testing.T) {
	list := fragcheck.ExtentList{
		{Logical: fragcheck.BlockRange{Start: 0, End: 0}, Physical: fragcheck.BlockRange{Start: 10, End: 10}},
	}
	runs, overlaps := list.MergePhysical()
	assert.Empty(t, runs)
	assert.Empty(t, overlaps)
}

func TestSortedByLogical(t *testing.T) {
	list := dt.Extents(
		[3]uint64{1000, 2000, 1000},
		[3]uint64{0, 1000, 1000},
	)
	sorted := list.SortedByLogical()
	assert.Equal(t, uint64(0), sorted[0].Logical.Start)
	assert.Equal(t, uint64(1000), sorted[1].Logical.Start)
	// Original order untouched.
	assert.Equal(t, uint64(1000), list[0].Logical.Start)
}
