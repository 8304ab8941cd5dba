package fragcheck

import (
	"fmt"
	"strings"

	"github.com/boljen/go-bitmap"

	"github.com/fragcheck/fragcheck/errors"
)

// Invariant identifies which extent-list invariant a validation failure
// violated.
type Invariant int

const (
	// InvariantStart: the first extent must begin at the expected logical
	// block (0 for fully allocated files).
	InvariantStart Invariant = iota
	// InvariantOrder: extents must be strictly ascending in logical start.
	InvariantOrder
	// InvariantOverlap: no two extents may share a logical block.
	InvariantOverlap
	// InvariantCoverage: the extents must cover the file's final logical
	// block.
	InvariantCoverage
	// InvariantContiguity: on filesystems without sparse-file support there
	// must be no gap between consecutive extents.
	InvariantContiguity
)

var invariantNames = map[Invariant]string{
	InvariantStart:      "first extent start",
	InvariantOrder:      "logical ordering",
	InvariantOverlap:    "logical overlap",
	InvariantCoverage:   "coverage of file size",
	InvariantContiguity: "contiguity",
}

func (i Invariant) String() string {
	if name, ok := invariantNames[i]; ok {
		return name
	}
	return fmt.Sprintf("invariant %d", int(i))
}

// ValidationError reports the specific invariant an extent list violated and
// the indices of the offending extents. It maps to a FAIL result.
type ValidationError struct {
	Invariant Invariant
	// Extents are indices into the validated list. One entry for
	// single-extent violations, two for pairwise ones (order, overlap).
	Extents []int
	Detail  string
}

func (e *ValidationError) Error() string {
	var idx []string
	for _, i := range e.Extents {
		idx = append(idx, fmt.Sprintf("#%d", i))
	}
	msg := fmt.Sprintf("%s violated", e.Invariant)
	if len(idx) > 0 {
		msg += " by extent " + strings.Join(idx, ", ")
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Kind marks a ValidationError as a validation failure so that
// [errors.KindOf] classifies it without special cases.
func (e *ValidationError) Kind() errors.Kind {
	return errors.KindValidation
}

func (e *ValidationError) Unwrap() error {
	return nil
}

// ValidateOptions tune the per-filesystem validation policy.
type ValidateOptions struct {
	// AllowSparse permits holes in the logical mapping. Filesystems with
	// sparse-file support legitimately leave unwritten regions unmapped, so
	// gaps are not violations there; the final block must still be covered.
	AllowSparse bool
	// ExpectedStart is the logical block the first extent must begin at.
	// Zero for ordinary fully written files.
	ExpectedStart uint64
}

// Validate checks an extent list against a file of `fileBlocks` logical
// blocks. It returns nil when every invariant holds and a *ValidationError
// naming the violated invariant and the offending extent indices otherwise.
//
// The checks, in order: expected first-extent start, strictly ascending
// logical starts, pairwise logical overlap, coverage of the final block, and
// (unless opts.AllowSparse) full contiguity. Coverage and contiguity are
// established with a per-block coverage bitmap so that a gap is found no
// matter how the extents around it are arranged.
func Validate(list ExtentList, fileBlocks uint64, opts ValidateOptions) error {
	if fileBlocks == 0 {
		return nil
	}
	if len(list) == 0 {
		return &ValidationError{
			Invariant: InvariantCoverage,
			Detail:    fmt.Sprintf("no extents reported for a %d-block file", fileBlocks),
		}
	}

	if !opts.AllowSparse && list[0].Logical.Start != opts.ExpectedStart {
		return &ValidationError{
			Invariant: InvariantStart,
			Extents:   []int{0},
			Detail: fmt.Sprintf("starts at block %d, expected %d",
				list[0].Logical.Start, opts.ExpectedStart),
		}
	}

	maxEnd := fileBlocks
	for i, e := range list {
		if e.Logical.End < e.Logical.Start {
			return &ValidationError{
				Invariant: InvariantOrder,
				Extents:   []int{i},
				Detail:    fmt.Sprintf("inverted range %s", e.Logical),
			}
		}
		if e.Logical.End > maxEnd {
			maxEnd = e.Logical.End
		}
	}

	// Pairwise ordering and overlap. Tracking the farthest end seen so far
	// catches overlaps with any earlier extent, not just the previous one.
	farthest := list[0].Logical.End
	farthestIdx := 0
	for i := 1; i < len(list); i++ {
		if list[i].Logical.Start <= list[i-1].Logical.Start {
			return &ValidationError{
				Invariant: InvariantOrder,
				Extents:   []int{i - 1, i},
				Detail: fmt.Sprintf("%s then %s",
					list[i-1].Logical, list[i].Logical),
			}
		}
		if list[i].Logical.Start < farthest {
			return &ValidationError{
				Invariant: InvariantOverlap,
				Extents:   []int{farthestIdx, i},
				Detail: fmt.Sprintf("%s overlaps %s",
					list[farthestIdx].Logical, list[i].Logical),
			}
		}
		if list[i].Logical.End > farthest {
			farthest = list[i].Logical.End
			farthestIdx = i
		}
	}

	// Coverage bitmap over every logical block any extent may touch.
	// Extents past fileBlocks are legal (cluster rounding, preallocation);
	// only the window [ExpectedStart, fileBlocks) must be accounted for.
	covered := bitmap.New(int(maxEnd))
	for _, e := range list {
		for b := e.Logical.Start; b < e.Logical.End; b++ {
			covered.Set(int(b), true)
		}
	}

	if !covered.Get(int(fileBlocks - 1)) {
		last := len(list) - 1
		return &ValidationError{
			Invariant: InvariantCoverage,
			Extents:   []int{last},
			Detail: fmt.Sprintf("extents end at block %d, file has %d blocks",
				list[last].Logical.End, fileBlocks),
		}
	}

	if !opts.AllowSparse {
		for b := opts.ExpectedStart; b < fileBlocks; b++ {
			if covered.Get(int(b)) {
				continue
			}
			before, after := gapNeighbors(list, b)
			return &ValidationError{
				Invariant: InvariantContiguity,
				Extents:   []int{before, after},
				Detail:    fmt.Sprintf("block %d is not mapped", b),
			}
		}
	}
	return nil
}

// gapNeighbors returns the indices of the extents immediately before and
// after the unmapped block. The list is already known to be sorted.
func gapNeighbors(list ExtentList, block uint64) (before, after int) {
	before, after = -1, -1
	for i, e := range list {
		if e.Logical.End <= block {
			before = i
		}
		if e.Logical.Start > block {
			after = i
			break
		}
	}
	return before, after
}
