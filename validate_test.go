package fragcheck_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fragcheck/fragcheck"
	"github.com/fragcheck/fragcheck/errors"
	dt "github.com/fragcheck/fragcheck/testing"
)

func requireViolation(t *testing.T, err error, inv fragcheck.Invariant, extents ...int) {
	t.Helper()
	require.Error(t, err)
	var verr *fragcheck.ValidationError
	require.True(t, stderrors.As(err, &verr), "expected *ValidationError, got %T: %v", err, err)
	assert.Equal(t, inv, verr.Invariant)
	if len(extents) > 0 {
		assert.Equal(t, extents, verr.Extents)
	}
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestValidateContiguousCoverage(t *testing.T) {
	// The documented two-extent example: full contiguous coverage of a
	// 2000-block file.
	list := dt.Extents(
		[3]uint64{0, 1000, 1000},
		[3]uint64{1000, 2000, 1000},
	)
	assert.NoError(t, fragcheck.Validate(list, 2000, fragcheck.ValidateOptions{}))
}

func TestValidateEmptyFile(t *testing.T) {
	assert.NoError(t, fragcheck.Validate(nil, 0, fragcheck.ValidateOptions{}))
}

func TestValidateNoExtentsForNonEmptyFile(t *testing.T) {
	err := fragcheck.Validate(nil, 2000, fragcheck.ValidateOptions{})
	requireViolation(t, err, fragcheck.InvariantCoverage)
}

func TestValidateWrongStart(t *testing.T) {
	list := dt.Extents([3]uint64{5, 1000, 1995})
	err := fragcheck.Validate(list, 2000, fragcheck.ValidateOptions{})
	requireViolation(t, err, fragcheck.InvariantStart, 0)
}

func TestValidateExpectedSparseOffset(t *testing.T) {
	list := dt.Extents([3]uint64{5, 1000, 1995})
	opts := fragcheck.ValidateOptions{ExpectedStart: 5}
	assert.NoError(t, fragcheck.Validate(list, 2000, opts))
}

func TestValidateUnorderedExtents(t *testing.T) {
	list := dt.Extents(
		[3]uint64{1000, 2000, 1000},
		[3]uint64{0, 1000, 1000},
	)
	err := fragcheck.Validate(list, 2000, fragcheck.ValidateOptions{AllowSparse: true})
	requireViolation(t, err, fragcheck.InvariantOrder, 0, 1)
}

func TestValidateOverlapCitesPair(t *testing.T) {
	// Second extent begins inside the first.
	list := dt.Extents(
		[3]uint64{0, 1000, 1000},
		[3]uint64{500, 2000, 1500},
	)
	err := fragcheck.Validate(list, 2000, fragcheck.ValidateOptions{})
	requireViolation(t, err, fragcheck.InvariantOverlap, 0, 1)
}

func TestValidateOverlapWithEarlierExtent(t *testing.T) {
	// An extent nested entirely inside an earlier one still counts.
	list := dt.Extents(
		[3]uint64{0, 1000, 1500},
		[3]uint64{600, 4000, 100},
	)
	err := fragcheck.Validate(list, 1500, fragcheck.ValidateOptions{AllowSparse: true})
	requireViolation(t, err, fragcheck.InvariantOverlap, 0, 1)
}

func TestValidateCoverageIncomplete(t *testing.T) {
	// Spec example: report claims only the first 1000 blocks of a
	// 2000-block file.
	list := dt.Extents([3]uint64{0, 1000, 1000})
	err := fragcheck.Validate(list, 2000, fragcheck.ValidateOptions{})
	requireViolation(t, err, fragcheck.InvariantCoverage, 0)
}

func TestValidateGapNonSparseFails(t *testing.T) {
	list := dt.Extents(
		[3]uint64{0, 1000, 500},
		[3]uint64{1000, 2000, 1000},
	)
	err := fragcheck.Validate(list, 2000, fragcheck.ValidateOptions{})
	requireViolation(t, err, fragcheck.InvariantContiguity, 0, 1)
}

func TestValidateGapSparseTolerated(t *testing.T) {
	list := dt.Extents(
		[3]uint64{0, 1000, 500},
		[3]uint64{1000, 2000, 1000},
	)
	opts := fragcheck.ValidateOptions{AllowSparse: true}
	assert.NoError(t, fragcheck.Validate(list, 2000, opts))
}

func TestValidateSparseStillNeedsFinalBlock(t *testing.T) {
	list := dt.Extents([3]uint64{0, 1000, 500})
	opts := fragcheck.ValidateOptions{AllowSparse: true}
	err := fragcheck.Validate(list, 2000, opts)
	requireViolation(t, err, fragcheck.InvariantCoverage, 0)
}

func TestValidateExtentPastEOFAllowed(t *testing.T) {
	// Cluster rounding: vfat maps whole clusters, so the last extent may
	// extend past the file's final block.
	list := dt.Extents([3]uint64{0, 1000, 2048})
	assert.NoError(t, fragcheck.Validate(list, 2000, fragcheck.ValidateOptions{}))
}

func TestValidateInvertedRange(t *testing.T) {
	list := fragcheck.ExtentList{{
		Logical:  fragcheck.BlockRange{Start: 100, End: 50},
		Physical: fragcheck.BlockRange{Start: 1000, End: 1050},
	}}
	err := fragcheck.Validate(list, 2000, fragcheck.ValidateOptions{ExpectedStart: 100})
	requireViolation(t, err, fragcheck.InvariantOrder, 0)
}

func TestValidationErrorMessage(t *testing.T) {
	err := &fragcheck.ValidationError{
		Invariant: fragcheck.InvariantOverlap,
		Extents:   []int{2, 5},
		Detail:    "x",
	}
	assert.Contains(t, err.Error(), "logical overlap")
	assert.Contains(t, err.Error(), "#2")
	assert.Contains(t, err.Error(), "#5")
}
