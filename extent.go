// Package fragcheck defines the core data model for validating the extent
// maps that filefrag reports for files on freshly formatted filesystems: block
// ranges, extents, extent lists, per-filesystem test cases, and the
// pass/fail/error results they produce.
//
// All block values are 512-byte sectors, matching `filefrag -b512`.
package fragcheck

import (
	"fmt"
	"sort"
	"strings"
)

// SectorSize is the block unit used throughout: filefrag is always invoked
// with -b512 so logical and physical offsets are directly comparable to raw
// device offsets.
const SectorSize = 512

// LogicalBlock is a 512-byte block offset within a file.
type LogicalBlock uint64

// PhysicalBlock is a 512-byte block offset from the start of the partition.
// filefrag reports physical offsets relative to the partition, not the disk.
type PhysicalBlock uint64

// BlockRange is a half-open range of blocks, [Start, End).
type BlockRange struct {
	Start uint64
	End   uint64
}

// Length returns the number of blocks in the range.
func (r BlockRange) Length() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Overlaps tells whether two ranges share at least one block.
func (r BlockRange) Overlaps(other BlockRange) bool {
	return r.Start < other.End && other.Start < r.End
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d..%d)", r.Start, r.End)
}

// ExtentFlags is a bit set of the flags filefrag attaches to an extent.
type ExtentFlags uint16

const (
	// FlagLast marks the last extent in the file's extent tree.
	FlagLast ExtentFlags = 1 << iota
	// FlagEOF marks the extent containing the end of file.
	FlagEOF
	// FlagUnwritten marks preallocated but never-written space.
	FlagUnwritten
	// FlagUnknown marks an extent whose physical location is not known,
	// e.g. delayed allocation that has not been flushed yet.
	FlagUnknown
	// FlagDelalloc marks delayed-allocation extents.
	FlagDelalloc
	// FlagShared marks extents shared with another file (reflink).
	FlagShared
	// FlagInline marks data stored inside the inode itself.
	FlagInline
	// FlagMerged marks extents the tool itself coalesced for display.
	FlagMerged
	// FlagOther is set when the tool reported a flag name this package does
	// not know about. Unknown names are tolerated, not errors, because flag
	// spellings differ between e2fsprogs versions.
	FlagOther
)

var flagNames = map[string]ExtentFlags{
	"last":        FlagLast,
	"eof":         FlagEOF,
	"unwritten":   FlagUnwritten,
	"unknown":     FlagUnknown,
	"unknown_loc": FlagUnknown,
	"delalloc":    FlagDelalloc,
	"shared":      FlagShared,
	"inline":      FlagInline,
	"merged":      FlagMerged,
}

// ParseExtentFlags converts a comma-separated flag list, as printed in the
// last column of a filefrag data line, into an ExtentFlags value.
func ParseExtentFlags(s string) ExtentFlags {
	var flags ExtentFlags
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	}) {
		if f, ok := flagNames[strings.ToLower(tok)]; ok {
			flags |= f
		} else {
			flags |= FlagOther
		}
	}
	return flags
}

// Has tells whether all bits in `f` are set.
func (fl ExtentFlags) Has(f ExtentFlags) bool {
	return fl&f == f
}

func (fl ExtentFlags) String() string {
	var names []string
	ordered := []struct {
		flag ExtentFlags
		name string
	}{
		{FlagLast, "last"},
		{FlagEOF, "eof"},
		{FlagUnwritten, "unwritten"},
		{FlagUnknown, "unknown"},
		{FlagDelalloc, "delalloc"},
		{FlagShared, "shared"},
		{FlagInline, "inline"},
		{FlagMerged, "merged"},
		{FlagOther, "other"},
	}
	for _, o := range ordered {
		if fl.Has(o.flag) {
			names = append(names, o.name)
		}
	}
	return strings.Join(names, ",")
}

// Extent is one row of the fragmentation report: a contiguous run of physical
// blocks backing a contiguous run of logical file blocks.
type Extent struct {
	// Index is the extent number as reported by the tool.
	Index int
	// Logical is the file-relative block range, half-open.
	Logical BlockRange
	// Physical is the partition-relative block range, half-open.
	Physical BlockRange
	// Flags are the tool-reported extent flags.
	Flags ExtentFlags
}

func (e Extent) String() string {
	if e.Flags == 0 {
		return fmt.Sprintf("#%d logical %s physical %s", e.Index, e.Logical, e.Physical)
	}
	return fmt.Sprintf("#%d logical %s physical %s (%s)", e.Index, e.Logical, e.Physical, e.Flags)
}

// ExtentList is the ordered sequence of extents reported for one file.
type ExtentList []Extent

// TotalBlocks returns the sum of the logical lengths of all extents.
func (l ExtentList) TotalBlocks() uint64 {
	var total uint64
	for _, e := range l {
		total += e.Logical.Length()
	}
	return total
}

// Equal reports whether two lists describe exactly the same extents.
func (l ExtentList) Equal(other ExtentList) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if l[i] != other[i] {
			return false
		}
	}
	return true
}

// PhysicalRun is a contiguous run of physical blocks, the unit used when
// reading file content back through the raw partition device.
type PhysicalRun struct {
	Start  uint64
	Length uint64
}

// PhysicalOverlap records a pair of physically overlapping runs found while
// merging. Overlapping runs are collapsed into their union so that readback
// can still proceed, but the overlap is reported to the caller.
type PhysicalOverlap struct {
	A PhysicalRun
	B PhysicalRun
}

func (o PhysicalOverlap) String() string {
	return fmt.Sprintf("%d:%d & %d:%d", o.A.Start, o.A.Length, o.B.Start, o.B.Length)
}

// MergePhysical coalesces the physical side of the extent list into the
// fewest possible runs, in logical order. A run absorbs the next extent when
// the extent begins exactly where the run ends, or ends exactly where the run
// begins. Physically overlapping neighbors are collapsed into their union and
// reported. Anything else starts a new run.
func (l ExtentList) MergePhysical() ([]PhysicalRun, []PhysicalOverlap) {
	var (
		merged   []PhysicalRun
		overlaps []PhysicalOverlap
		cur      PhysicalRun
		started  bool
	)
	for _, e := range l {
		start := e.Physical.Start
		size := e.Physical.Length()
		if size == 0 {
			continue
		}
		switch {
		case !started:
			cur = PhysicalRun{Start: start, Length: size}
			started = true
		case cur.Start+cur.Length == start:
			cur.Length += size
		case start+size == cur.Start:
			cur.Start = start
			cur.Length += size
		case cur.Start < start+size && start < cur.Start+cur.Length:
			overlaps = append(overlaps, PhysicalOverlap{
				A: cur,
				B: PhysicalRun{Start: start, Length: size},
			})
			lo := cur.Start
			if start < lo {
				lo = start
			}
			hi := cur.Start + cur.Length
			if start+size > hi {
				hi = start + size
			}
			cur = PhysicalRun{Start: lo, Length: hi - lo}
		default:
			merged = append(merged, cur)
			cur = PhysicalRun{Start: start, Length: size}
		}
	}
	if started {
		merged = append(merged, cur)
	}
	return merged, overlaps
}

// SortedByLogical returns a copy of the list ordered by logical start. The
// parser preserves tool order; this is for callers that need a canonical
// ordering regardless of what the tool printed.
func (l ExtentList) SortedByLogical() ExtentList {
	out := make(ExtentList, len(l))
	copy(out, l)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Logical.Start < out[j].Logical.Start
	})
	return out
}
